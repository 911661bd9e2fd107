// Package sweep runs the periodic pairwise similarity pass over recently
// active behavior profiles.
package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantarena/arena/internal/fraud"
)

// PairProcessor consumes one candidate profile pair. The engine facade
// implements it; comparison, scoring and alerting happen behind it.
type PairProcessor interface {
	ProcessPair(ctx context.Context, a, b *fraud.BehaviorProfile) error
}

// Sweeper schedules and executes similarity sweeps. Comparison is quadratic
// in the active set, so the sweep restricts itself to profiles with recent
// activity and, optionally, pairs sharing at least one preferred instrument.
type Sweeper struct {
	logger    *zap.SugaredLogger
	store     fraud.ProfileStore
	processor PairProcessor
	cfg       fraud.SweepConfig
	metrics   *fraud.Metrics
	cron      *cron.Cron
}

// NewSweeper creates a sweeper. Call Start to begin the schedule.
func NewSweeper(logger *zap.SugaredLogger, store fraud.ProfileStore, processor PairProcessor, cfg fraud.SweepConfig, metrics *fraud.Metrics) *Sweeper {
	return &Sweeper{
		logger:    logger,
		store:     store,
		processor: processor,
		cfg:       cfg,
		metrics:   metrics,
	}
}

// Start registers the cron schedule and begins running sweeps.
func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		s.logger.Infow("similarity sweep disabled")
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.logger.Errorw("similarity sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Infow("similarity sweep scheduled", "schedule", s.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce executes a single sweep over the currently active profiles.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	started := time.Now()
	since := started.Add(-s.cfg.ActiveWindow)

	profiles, err := s.store.ListActiveProfiles(ctx, since)
	if err != nil {
		return err
	}
	if len(profiles) < 2 {
		return nil
	}

	parallelism := s.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	pairs := 0
	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			a, b := profiles[i], profiles[j]
			if s.cfg.RequireSharedInstrument && !sharesInstrument(a, b) {
				continue
			}
			pairs++
			g.Go(func() error {
				return s.processor.ProcessPair(ctx, a, b)
			})
		}
	}

	err = g.Wait()
	elapsed := time.Since(started)
	s.metrics.ObserveSweepDuration(elapsed.Seconds())
	s.metrics.AddSweepPairs(pairs)
	s.logger.Infow("similarity sweep finished",
		"profiles", len(profiles),
		"pairs_compared", pairs,
		"duration", elapsed,
		"error", err,
	)
	return err
}

// sharesInstrument reports whether the profiles overlap on any preferred
// instrument. Profiles with no computed preferences always pass; starving
// them of comparison would hide brand-new accounts.
func sharesInstrument(a, b *fraud.BehaviorProfile) bool {
	if len(a.Patterns.PreferredInstruments) == 0 || len(b.Patterns.PreferredInstruments) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(a.Patterns.PreferredInstruments))
	for _, inst := range a.Patterns.PreferredInstruments {
		set[inst] = struct{}{}
	}
	for _, inst := range b.Patterns.PreferredInstruments {
		if _, ok := set[inst]; ok {
			return true
		}
	}
	return false
}
