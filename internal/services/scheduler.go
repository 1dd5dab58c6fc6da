package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Recomputer is the part of MetricsService the scheduler drives.
type Recomputer interface {
	Recompute(ctx context.Context) (RunResult, error)
}

// SchedulerConfig holds configuration for the recompute scheduler
type SchedulerConfig struct {
	// Interval is how often metrics are rebuilt (default: 1h)
	Interval time.Duration

	// RunOnStart triggers a recompute as soon as the scheduler starts
	RunOnStart bool
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// Scheduler rebuilds the metrics table on a fixed interval.
type Scheduler struct {
	recomputer Recomputer
	config     SchedulerConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(recomputer Recomputer, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{
		recomputer: recomputer,
		config:     config,
	}
}

// Start begins the scheduling loop in the background. Returns an error if
// already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Recompute scheduler started", "interval", s.config.Interval)
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop gracefully stops the scheduler and waits for a running recompute.
// After a timeout it may be called again to keep waiting.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
		slog.InfoContext(ctx, "Recompute scheduler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recompute scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.recompute(ctx)
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recompute(ctx)
		}
	}
}

func (s *Scheduler) recompute(ctx context.Context) {
	result, err := s.recomputer.Recompute(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled recompute failed", "error", err)
		return
	}
	slog.DebugContext(ctx, "Scheduled recompute finished",
		"months", result.Months,
		"skipped", result.Skipped,
		"duration", result.Duration)
}
