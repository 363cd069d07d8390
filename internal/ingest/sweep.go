package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const sweepLimit = 500

// RunSweeper schedules upcoming expirations every interval until ctx is
// cancelled. Each pass covers interval plus the expiry horizon so no
// status falls between two passes; expire_status tolerates duplicates.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	c.logger.Info("Starting expiry sweeper", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := c.SweepExpiring(ctx, interval+expiryHorizon, sweepLimit)
		if err != nil {
			c.logger.Error("Failed to sweep expiring statuses", zap.Error(err))
		} else if n > 0 {
			c.logger.Debug("Scheduled expirations", zap.Int("count", n))
		}

		wait(ctx, interval)
	}
}

// wait waits for d or until ctx is cancelled
func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
