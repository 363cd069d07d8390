package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// FetchPayload is the payload of a fetch_status task
type FetchPayload struct {
	URI string `json:"uri"`
}

// PendingPayload is the payload of a resolve_reference task
type PendingPayload struct {
	PendingID int64 `json:"pending_id"`
}

// LinkReferences records edges from source to every URL that resolves to a
// status, plus quote when given. Unknown targets are stored as pending and
// retried in the background; quoteURI marks which of them is the quote when
// quote itself could not be resolved. Local authors of newly referenced
// statuses are notified once each, for their earliest referenced status.
func (r *Resolver) LinkReferences(ctx context.Context, source *models.Status, urls []string, quote *models.Status, quoteURI string) error {
	ctx, span := telemetry.StartSpan(ctx, "resolver.LinkReferences")
	defer span.End()

	targets := make(map[int64]*models.Status)
	var edges []models.StatusReference
	addEdge := func(target *models.Status) {
		if target == nil || isSelfReference(source, target) {
			return
		}
		if _, ok := targets[target.ID]; ok {
			return
		}
		targets[target.ID] = target
		edges = append(edges, models.StatusReference{
			StatusID:       source.ID,
			TargetStatusID: target.ID,
			Quote:          quote != nil && quote.ID == target.ID,
			CreatedAt:      source.CreatedAt,
		})
	}

	addEdge(quote)

	var pendingQuote string
	if quote == nil && quoteURI != "" {
		pendingQuote, _ = Normalize(quoteURI)
	}

	seen := make(map[string]bool)
	for _, raw := range urls {
		norm, err := Normalize(raw)
		if err != nil || seen[norm] || norm == source.URI {
			continue
		}
		seen[norm] = true

		res, err := r.Resolve(ctx, norm)
		if err != nil {
			r.logger.Debug("Skipping reference", zap.String("url", raw), zap.Error(err))
			continue
		}
		switch {
		case res.Status != nil:
			addEdge(res.Status)
		case res.Account != nil || r.IsLocal(norm):
			// profile links and unknown local paths are not references
		default:
			if err := r.deferReference(ctx, source, norm, norm == pendingQuote); err != nil {
				return err
			}
		}
	}

	if len(edges) == 0 {
		return nil
	}
	created, err := r.store.CreateReferences(ctx, edges)
	if err != nil {
		return fmt.Errorf("create references for %d: %w", source.ID, err)
	}
	r.notifyEarliest(ctx, source, created, targets)
	return nil
}

// RetryPending attempts to link a deferred reference. It returns
// ErrUnresolved while the target is still unknown so the task is retried.
// A deferred quote also becomes the source's quote when the target turns
// out to be public or unlisted.
func (r *Resolver) RetryPending(ctx context.Context, pendingID int64) error {
	pending, err := r.store.PendingReferenceByID(ctx, pendingID)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}

	source, err := r.store.StatusByID(ctx, pending.StatusID)
	if err != nil {
		return err
	}
	if source == nil {
		return r.store.DeletePendingReference(ctx, pendingID)
	}

	target, err := r.LookupStatus(ctx, pending.TargetURI)
	if err != nil && !errors.Is(err, ErrInvalidURL) {
		return err
	}
	if target == nil {
		return ErrUnresolved
	}
	if pending.Quote && target.ReblogOfID != nil {
		if target, err = r.store.StatusByID(ctx, *target.ReblogOfID); err != nil {
			return err
		}
		if target == nil {
			return r.store.DeletePendingReference(ctx, pendingID)
		}
	}

	if !isSelfReference(source, target) {
		created, err := r.store.CreateReferences(ctx, []models.StatusReference{{
			StatusID:       source.ID,
			TargetStatusID: target.ID,
			Quote:          pending.Quote,
			CreatedAt:      pending.CreatedAt,
		}})
		if err != nil {
			return err
		}
		r.notifyEarliest(ctx, source, created, map[int64]*models.Status{target.ID: target})

		if pending.Quote && source.QuoteOfID == nil && target.Visibility <= models.VisibilityUnlisted {
			if _, err := r.store.SetQuote(ctx, source.ID, target.ID); err != nil {
				return err
			}
		}
	}
	return r.store.DeletePendingReference(ctx, pendingID)
}

func (r *Resolver) deferReference(ctx context.Context, source *models.Status, targetURI string, quote bool) error {
	pending := &models.PendingReference{
		StatusID:  source.ID,
		TargetURI: targetURI,
		Quote:     quote,
		CreatedAt: source.CreatedAt,
	}
	if err := r.store.CreatePendingReference(ctx, pending); err != nil {
		return fmt.Errorf("record pending reference: %w", err)
	}
	if pending.ID == 0 {
		return nil
	}
	if err := r.tasks.Schedule(ctx, TaskResolveReference, PendingPayload{PendingID: pending.ID}, r.opts.RetryDelay); err != nil {
		r.logger.Warn("Failed to schedule reference retry", zap.Int64("pending_id", pending.ID), zap.Error(err))
	}
	return nil
}

// notifyEarliest sends one notification per local target author, for the
// lowest (earliest) target id among the newly created edges
func (r *Resolver) notifyEarliest(ctx context.Context, source *models.Status, created []models.StatusReference, targets map[int64]*models.Status) {
	if r.notifier == nil {
		return
	}
	earliest := make(map[int64]models.StatusReference)
	for _, edge := range created {
		target := targets[edge.TargetStatusID]
		if target == nil || !target.Local || target.AccountID == source.AccountID {
			continue
		}
		if cur, ok := earliest[target.AccountID]; !ok || edge.TargetStatusID < cur.TargetStatusID {
			earliest[target.AccountID] = edge
		}
	}
	for _, edge := range earliest {
		if err := r.notifier.Reference(ctx, source, targets[edge.TargetStatusID], edge.Quote); err != nil {
			r.logger.Warn("Failed to notify reference", zap.Int64("status_id", source.ID), zap.Error(err))
		}
	}
}

func isSelfReference(source, target *models.Status) bool {
	return source.ID == target.ID || (source.URI != "" && source.URI == target.URI)
}
