package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/activity"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/internal/search"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Delete tombstones the status at uri on behalf of actor. When the status
// is not known yet a marker is left so a create arriving later is ignored.
func (c *Coordinator) Delete(ctx context.Context, actor, uri string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.Delete")
	defer span.End()

	res, err := c.delete(ctx, actor, uri)
	c.record(ctx, res, err)
	return res, err
}

func (c *Coordinator) delete(ctx context.Context, actor, uri string) (Result, error) {
	if !activity.SameOrigin(actor, uri) {
		return Result{}, reject(ErrUntrusted, "%s may not delete %s", actor, uri)
	}

	return c.withLock(ctx, lockKey(uri), func(ctx context.Context) (Result, error) {
		status, err := c.store.StatusByURIUnscoped(ctx, uri)
		if err != nil {
			return Result{}, fmt.Errorf("look up %s: %w", uri, err)
		}
		if status == nil {
			if err := c.cache.Set(ctx, deleteMarkerKey(uri), actor, c.cfg.DeleteMarkerTTL); err != nil {
				return Result{}, transient(fmt.Errorf("store delete marker: %w", err))
			}
			return Result{Outcome: Deleted}, nil
		}
		if status.Tombstoned() {
			return Result{Outcome: AlreadyProcessed, Status: status}, nil
		}

		author, err := c.store.AccountByID(ctx, status.AccountID)
		if err != nil {
			return Result{}, err
		}
		if author == nil || author.URI != actor {
			return Result{}, reject(ErrUntrusted, "%s is not the author of %s", actor, uri)
		}
		return c.tombstone(ctx, status)
	})
}

// tombstone soft-deletes status and withdraws it from the search index
func (c *Coordinator) tombstone(ctx context.Context, status *models.Status) (Result, error) {
	deleted, err := c.store.SoftDeleteStatus(ctx, status.ID)
	if err != nil {
		return Result{}, fmt.Errorf("delete status %d: %w", status.ID, err)
	}
	if !deleted {
		return Result{Outcome: AlreadyProcessed, Status: status}, nil
	}
	if status.Local && status.Searchability == models.VisibilityPublic {
		if err := c.search.Index(ctx, search.Tombstone(status.ID)); err != nil {
			c.logger.Warn("Failed to withdraw status from index", zap.Int64("status_id", status.ID), zap.Error(err))
		}
	}
	c.logger.Info("Status deleted", zap.Int64("status_id", status.ID), zap.String("uri", status.URI))
	return Result{Outcome: Deleted, Status: status}, nil
}
