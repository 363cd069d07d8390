package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/fanout"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/logging"
)

// expiryHorizon is how far ahead an expiration is scheduled directly
// instead of waiting for the periodic sweep
const expiryHorizon = 10 * time.Minute

// afterCreate runs the side effects of a new status. Each is independent
// and retried on its own, so failures are logged and never undo the create.
func (c *Coordinator) afterCreate(ctx context.Context, d *builder.Draft, b *builder.Bundle, raw []byte) {
	status := b.Status
	logger := logging.WithActivity(c.logger, status.URI)

	if d.ReblogOf != nil {
		c.sideEffect(logger, "notify reblog", c.notifier.Reblog(ctx, status, d.ReblogOf))
	} else {
		c.sideEffect(logger, "notify mentions", c.notifier.Mention(ctx, status, b.Mentions))
		c.sideEffect(logger, "link references", c.resolver.LinkReferences(ctx, status, d.References, d.Quote, d.QuoteURI))
	}

	if d.NeedsThread() {
		c.schedule(ctx, logger, TaskResolveThread, ThreadPayload{StatusID: status.ID, ParentURI: d.ParentURI}, 0)
	}
	if !status.Local {
		if _, err := c.store.AttachChildren(ctx, status); err != nil {
			c.sideEffect(logger, "attach replies", err)
		}
	}
	for _, m := range b.Media {
		c.schedule(ctx, logger, TaskFetchMedia, MediaPayload{MediaID: m.ID}, 0)
	}
	if len(d.Links) > 0 {
		c.schedule(ctx, logger, TaskFetchPreview, PreviewPayload{StatusID: status.ID, URL: d.Links[0]}, 0)
	}
	if b.Poll != nil && b.Poll.ExpiresAt != nil {
		c.schedule(ctx, logger, TaskClosePoll, PollPayload{PollID: b.Poll.ID}, c.until(*b.Poll.ExpiresAt))
	}
	c.scheduleExpiry(ctx, logger, status, d)
	c.redistribute(ctx, logger, status, d, raw)

	if err := c.fanout.FanOut(ctx, status.ID); err != nil {
		if fanout.IsPartial(err) {
			logger.Warn("Fan-out partially failed", zap.Error(err))
		} else {
			logger.Error("Fan-out failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) scheduleExpiry(ctx context.Context, logger *zap.Logger, status *models.Status, d *builder.Draft) {
	switch {
	case status.ExpiresAt == nil || status.ExpiredAt != nil:
	case d.ExpiredOnArrival:
		c.schedule(ctx, logger, TaskExpireStatus, StatusPayload{StatusID: status.ID}, 0)
	default:
		if delay := c.until(*status.ExpiresAt); delay <= expiryHorizon {
			c.schedule(ctx, logger, TaskExpireStatus, StatusPayload{StatusID: status.ID}, delay)
		}
	}
}

// redistribute delivers local statuses to remote followers and forwards
// remote replies to the followers of the local author they answer
func (c *Coordinator) redistribute(ctx context.Context, logger *zap.Logger, status *models.Status, d *builder.Draft, raw []byte) {
	switch {
	case status.Local:
		c.schedule(ctx, logger, TaskDeliverStatus, StatusPayload{StatusID: status.ID}, 0)
	case d.Parent != nil && d.Parent.Local && status.Visibility <= models.VisibilityUnlisted && len(raw) > 0:
		c.schedule(ctx, logger, TaskForwardActivity, ForwardPayload{
			AccountID:  d.Parent.AccountID,
			OriginHost: activity.Host(status.URI),
			Body:       raw,
		}, 0)
	}
}

// SweepExpiring schedules the expiration of statuses due before now+horizon
// and returns how many were scheduled
func (c *Coordinator) SweepExpiring(ctx context.Context, horizon time.Duration, limit int) (int, error) {
	due, err := c.store.ExpiringBefore(ctx, c.now().Add(horizon), limit)
	if err != nil {
		return 0, err
	}
	for _, status := range due {
		if err := c.tasks.Schedule(ctx, TaskExpireStatus, StatusPayload{StatusID: status.ID}, c.until(*status.ExpiresAt)); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

func (c *Coordinator) until(t time.Time) time.Duration {
	if d := t.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

func (c *Coordinator) schedule(ctx context.Context, logger *zap.Logger, kind string, payload interface{}, delay time.Duration) {
	if err := c.tasks.Schedule(ctx, kind, payload, delay); err != nil {
		logger.Warn("Failed to schedule task", zap.String("kind", kind), zap.Error(err))
	}
}

func (c *Coordinator) sideEffect(logger *zap.Logger, what string, err error) {
	if err != nil {
		logger.Warn("Side effect failed", zap.String("effect", what), zap.Error(err))
	}
}
