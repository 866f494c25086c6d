package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
)

// Sweep stops every persisted running game that has reached the ceiling and
// records it as retired.  A game whose stop fails stays running and is
// picked up again on the next tick.  It returns the sessions it stopped.
func (c *Controller) Sweep(ctx context.Context) ([]model.GameSession, error) {
	running, err := c.store.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	now := c.now()
	var stopped []model.GameSession
	for _, r := range running {
		if now.Sub(*r.GameStartedAt) < c.ceiling {
			continue
		}
		s, err := c.stop(ctx, r.ID, nil, model.OutcomeRetired)
		if err != nil {
			c.log.ErrorContext(ctx, "forced stop failed, will retry",
				slog.Uint64("reservation_id", r.ID), slog.Any("err", err))
			continue
		}
		c.log.InfoContext(ctx, "game retired at ceiling",
			slog.Uint64("reservation_id", r.ID),
			slog.Duration("ceiling", c.ceiling))
		stopped = append(stopped, s)
	}
	return stopped, nil
}

// Remaining returns how long the session may still run before Sweep
// retires it.  Stopped sessions have no time left.
func (c *Controller) Remaining(s model.GameSession) time.Duration {
	if !s.Active() {
		return 0
	}
	left := c.ceiling - c.now().Sub(s.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}
