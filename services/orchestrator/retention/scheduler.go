// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Retention Scheduler
// =============================================================================

// SchedulerConfig holds configuration for the background sweep scheduler.
type SchedulerConfig struct {
	// Interval between sweep passes. Default: 1 hour.
	Interval time.Duration
}

// DefaultSchedulerConfig returns the production default interval.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: 1 * time.Hour,
	}
}

// Scheduler runs the session sweeper on a fixed interval.
//
// # Description
//
// Manages the lifecycle of a background goroutine that periodically sweeps
// the session repository. Uses the ticker + done channel pattern for
// graceful shutdown; an initial sweep runs immediately on Start.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Scheduler struct {
	sweeper *Sweeper
	audit   AuditLog
	config  SchedulerConfig
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a sweep scheduler.
//
// # Inputs
//
//   - sweeper: The sweeper to run each cycle.
//   - audit: Audit log for sweep summaries and cycle errors. May be nil
//     for slog-only logging.
//   - config: Scheduler configuration. Non-positive intervals fall back to
//     the default.
//
// # Outputs
//
//   - *Scheduler: Ready to Start.
//
// # Examples
//
//	sweeper := retention.NewSweeper(sessions, audit, retention.NewSystemClock(), 24*time.Hour)
//	scheduler := retention.NewScheduler(sweeper, audit, retention.DefaultSchedulerConfig())
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
func NewScheduler(sweeper *Sweeper, audit AuditLog, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{
		sweeper: sweeper,
		audit:   audit,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start begins the background sweep loop.
//
// # Description
//
// Launches a goroutine that sweeps immediately and then at the configured
// interval until Stop is called or the context is cancelled.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset done channel for potential restart
	s.mu.Unlock()

	slog.Info("Session retention scheduler starting",
		"interval", s.config.Interval.String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the background loop to exit. Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil // Already stopped
	}

	slog.Info("Session retention scheduler stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow performs a sweep immediately without waiting for the next tick.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	return s.sweeper.Sweep(ctx)
}

// =============================================================================
// Internal Methods
// =============================================================================

// runLoop is the scheduler goroutine: one immediate sweep, then one per tick.
func (s *Scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session retention scheduler stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Session retention scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

// executeSweep runs a single sweep with error handling, so a failed cycle
// never crashes the scheduler.
func (s *Scheduler) executeSweep(ctx context.Context) {
	result, err := s.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("Session retention sweep failed", "error", err)
		if s.audit != nil {
			_ = s.audit.LogError(err, "sweep_cycle")
		}
		return
	}

	if result.TotalDeleted() > 0 || result.HasErrors() {
		slog.Info("Session retention sweep completed",
			"sessions_examined", result.SessionsExamined,
			"completed_deleted", result.CompletedDeleted,
			"stale_deleted", result.StaleDeleted,
			"errors", len(result.Errors),
			"duration_ms", result.DurationMs(),
		)
	} else {
		slog.Debug("Session retention sweep completed (nothing eligible)")
	}

	if s.audit != nil {
		_ = s.audit.LogSweep(result)
	}
}
