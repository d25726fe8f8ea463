// Package scheduler runs periodic refresh sweeps. It owns the wall clock:
// the pipeline itself never retries or times out, the scheduler decides when
// to fire, records abandoned runs, and survives missed schedule points.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harunnryd/mihari/internal/concurrency"
	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/store"
)

// Refresher is the scheduler's view of the pipeline.
type Refresher interface {
	RefreshAll(ctx context.Context, account string, now time.Time) error
}

type Scheduler struct {
	refresher Refresher
	store     *store.Store
	account   string

	schedule        cron.Schedule
	tickInterval    time.Duration
	shutdownTimeout time.Duration
	abandonedCutoff time.Duration
	maxCatchupRuns  int
	lockPath        string

	mu       sync.Mutex
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
	lock     *store.FileLock
	nextFire time.Time
}

func New(cfg config.SchedulerConfig, refresher Refresher, st *store.Store, account string) (*Scheduler, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = config.DefaultSchedulerSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	tickInterval, err := config.DurationOrDefault(cfg.TickInterval, config.DefaultSchedulerTickInterval)
	if err != nil {
		return nil, fmt.Errorf("parse tick interval: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse shutdown timeout: %w", err)
	}
	abandonedCutoff, err := config.DurationOrDefault(cfg.AbandonedCutoff, config.DefaultSchedulerAbandonedCutoff)
	if err != nil {
		return nil, fmt.Errorf("parse abandoned cutoff: %w", err)
	}
	maxCatchupRuns := cfg.MaxCatchupRuns
	if maxCatchupRuns <= 0 {
		maxCatchupRuns = config.DefaultSchedulerMaxCatchupRuns
	}

	return &Scheduler{
		refresher:       refresher,
		store:           st,
		account:         account,
		schedule:        schedule,
		tickInterval:    tickInterval,
		shutdownTimeout: shutdownTimeout,
		abandonedCutoff: abandonedCutoff,
		maxCatchupRuns:  maxCatchupRuns,
		lockPath:        cfg.LockPath,
	}, nil
}

// Start acquires the single-instance lock, sweeps abandoned runs from a
// previous crash, and launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.Internal("scheduler already started")
	}

	if s.lockPath != "" {
		lock, err := store.AcquireLock(s.lockPath)
		if err != nil {
			return fmt.Errorf("single-instance lock: %w", err)
		}
		s.lock = lock
	}

	if marked, err := s.store.MarkAbandonedRuns(ctx, time.Now().Add(-s.abandonedCutoff)); err != nil {
		slog.Error("Abandoned-run sweep failed", "error", err)
	} else if marked > 0 {
		slog.Warn("Marked abandoned runs as failed", "count", marked)
	}

	s.running = true
	s.quit = make(chan struct{})
	s.nextFire = s.schedule.Next(time.Now())

	s.wg.Add(1)
	concurrency.SafeGo(func() {
		defer s.wg.Done()
		slog.Info("Scheduler started", "account", s.account, "next_fire", s.nextFire)
		s.run(ctx)
		slog.Info("Scheduler run loop stopped")
	}, nil)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case now := <-ticker.C:
			s.onTick(ctx, now)
		}
	}
}

// onTick fires the sweep when a schedule point has passed. A long sleep
// (laptop suspend, stalled host) may skip several points; they collapse into
// at most maxCatchupRuns immediate sweeps instead of a burst.
func (s *Scheduler) onTick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := 0
	for !now.Before(s.nextFire) {
		due++
		s.nextFire = s.schedule.Next(s.nextFire)
	}
	s.mu.Unlock()

	if due == 0 {
		return
	}
	if due > s.maxCatchupRuns {
		slog.Warn("Collapsing missed schedule points", "missed", due, "running", s.maxCatchupRuns)
		due = s.maxCatchupRuns
	}

	for i := 0; i < due; i++ {
		if err := s.refresher.RefreshAll(ctx, s.account, time.Now().UTC()); err != nil {
			slog.Error("Scheduled refresh failed", "account", s.account, "error", err)
		}
	}

	if marked, err := s.store.MarkAbandonedRuns(ctx, time.Now().Add(-s.abandonedCutoff)); err != nil {
		slog.Error("Abandoned-run sweep failed", "error", err)
	} else if marked > 0 {
		slog.Warn("Marked abandoned runs as failed", "count", marked)
	}
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.quit)
	lock := s.lock
	s.lock = nil
	s.mu.Unlock()

	defer func() {
		if lock != nil {
			if err := lock.Release(); err != nil {
				slog.Error("Lock release failed", "error", err)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return errors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
