package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/cache"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// PublishLocal creates a status for a local author. A non-empty token
// collapses retries of the same request by author: the first call
// creates, later ones replay AlreadyProcessed with the original status.
func (c *Coordinator) PublishLocal(ctx context.Context, author *models.Account, req builder.LocalPost, token string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.PublishLocal")
	defer span.End()

	res, err := c.publishLocal(ctx, author, req, token)
	c.record(ctx, res, err)
	return res, err
}

func (c *Coordinator) publishLocal(ctx context.Context, author *models.Account, req builder.LocalPost, token string) (Result, error) {
	if author == nil || !author.Local() || author.Suspended {
		return Result{}, reject(ErrUntrusted, "author may not publish")
	}

	key := ""
	if token != "" {
		key = idempotencyKey(author.ID, token)
		if res, done, err := c.replay(ctx, key); done {
			return res, err
		}
	}

	draft, err := c.builder.PrepareLocal(ctx, author, req)
	if err != nil {
		return Result{}, buildError(err)
	}

	var bundle *builder.Bundle
	create := func(ctx context.Context) (Result, error) {
		bundle = c.builder.Build(draft, c.ids)
		return c.persist(ctx, bundle)
	}

	var res Result
	if key == "" {
		res, err = create(ctx)
	} else {
		res, err = c.withLock(ctx, key, func(ctx context.Context) (Result, error) {
			if res, done, err := c.replay(ctx, key); done {
				return res, err
			}
			res, err := create(ctx)
			if err != nil || res.Outcome != Created {
				return res, err
			}
			if err := c.cache.Set(ctx, key, res.Status.ID, c.cfg.IdempotencyTTL); err != nil {
				c.logger.Warn("Failed to store idempotency record", zap.Int64("status_id", res.Status.ID), zap.Error(err))
			}
			return res, nil
		})
	}
	if err != nil || res.Outcome != Created {
		return res, err
	}
	c.afterCreate(ctx, draft, bundle, nil)
	return res, nil
}

// replay returns the status an earlier request with the same key created
func (c *Coordinator) replay(ctx context.Context, key string) (Result, bool, error) {
	v, err := c.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, true, transient(fmt.Errorf("read idempotency record: %w", err))
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return Result{}, true, fmt.Errorf("corrupt idempotency record %q: %w", v, err)
	}
	status, err := c.store.StatusByID(ctx, id)
	if err != nil {
		return Result{}, true, err
	}
	return Result{Outcome: AlreadyProcessed, Status: status}, true, nil
}

func idempotencyKey(accountID int64, token string) string {
	return "idempotency:" + strconv.FormatInt(accountID, 10) + ":" + cache.HashKey(token)
}
