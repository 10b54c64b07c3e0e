package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Sweeper periodically retries unsaved match snapshots and evicts stale waiting matches
// from the live registry.
type Sweeper struct {
	scheduler gocron.Scheduler
	registry  *Registry
	logger    *zap.Logger
}

func NewSweeper(registry *Registry, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create sweeper scheduler: %w", err)
	}
	s := &Sweeper{scheduler: sched, registry: registry, logger: logger}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("register sweep job: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// sweepTimeout bounds the store writes of one sweep.
const sweepTimeout = 30 * time.Second

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if n := s.registry.FlushUnsaved(ctx); n > 0 {
		s.logger.Warn("match snapshots still unsaved", zap.Int("count", n))
	}
	if n := s.registry.EvictStale(); n > 0 {
		s.logger.Info("evicted stale matches", zap.Int("count", n), zap.Int("live", s.registry.LiveCount()))
	}
}
