// Package scheduler runs the automatic regeneration sweep for restaurants
// with stale availability.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/logging"
)

// StaleLister lists restaurants whose availability is stale.
type StaleLister interface {
	ActiveRestaurants() []string
}

// Regenerator is the part of the coordinator the sweep drives.
type Regenerator interface {
	CleanupAndRegenerate(ctx context.Context, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error)
	DefaultPeriod(ctx context.Context, restaurantID string, loc *time.Location, fallbackDays int) (availability.Period, error)
}

// Scheduler periodically regenerates every stale restaurant. A restaurant
// that is already running is skipped; a failure is logged and the flag stays
// set for the next sweep.
type Scheduler struct {
	Stale       StaleLister
	Regen       Regenerator
	Interval    time.Duration
	HorizonDays int
	Location    *time.Location
	// Concurrency bounds parallel runs per sweep.
	Concurrency int
	Clock       clockwork.Clock
	Logger      *zap.Logger
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	s.Logger = logging.OrNop(s.Logger)

	t := s.Clock.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and waits for it to finish. It returns the number of
// restaurants that completed a run.
func (s *Scheduler) Sweep(ctx context.Context) int {
	logger := logging.OrNop(s.Logger)
	ids := s.Stale.ActiveRestaurants()
	if len(ids) == 0 {
		return 0
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)

	done := make([]bool, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			done[i] = s.regenerate(ctx, logger, id)
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range done {
		if ok {
			n++
		}
	}
	logger.Info("sweep finished", zap.Int("stale", len(ids)), zap.Int("regenerated", n))
	return n
}

func (s *Scheduler) regenerate(ctx context.Context, logger *zap.Logger, id string) bool {
	period, err := s.Regen.DefaultPeriod(ctx, id, s.Location, s.HorizonDays)
	if err != nil {
		logger.Warn("sweep: resolve period failed", zap.String("restaurant_id", id), zap.Error(err))
		return false
	}
	out, err := s.Regen.CleanupAndRegenerate(ctx, id, period.Start, period.End)
	if err != nil {
		logger.Warn("sweep: regeneration failed", zap.String("restaurant_id", id),
			zap.String("code", availability.CodeOf(err)), zap.Error(err))
		return false
	}
	return out.Succeeded()
}
