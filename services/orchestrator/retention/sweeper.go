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
	"encoding/json"
	"fmt"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
)

// =============================================================================
// Session Sweeper
// =============================================================================

// defaultSessionMaxAge is used when no retention window is configured.
const defaultSessionMaxAge = 24 * time.Hour

// staleAgeMultiplier scales the retention window for sessions still marked
// ACTIVE. An interview abandoned mid-flight stays resumable well past the
// completed-session window, but does not accumulate forever.
const staleAgeMultiplier = 10

// SweepResult summarizes one pass over the session repository.
//
// # Fields
//
//   - StartTime: When the sweep started.
//   - EndTime: When the sweep completed.
//   - SessionsExamined: Number of sessions inspected.
//   - CompletedDeleted: COMPLETE sessions removed (past the retention window).
//   - StaleDeleted: ACTIVE sessions removed (idle past the stale window).
//   - Errors: Per-session failures; the sweep continues past them.
type SweepResult struct {
	StartTime        time.Time
	EndTime          time.Time
	SessionsExamined int
	CompletedDeleted int
	StaleDeleted     int
	Errors           []SweepError
}

// Duration returns the total duration of the sweep.
func (r *SweepResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// DurationMs returns the duration in milliseconds for logging.
func (r *SweepResult) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

// HasErrors returns true if any per-session failures occurred.
func (r *SweepResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// TotalDeleted returns the number of sessions removed by the sweep.
func (r *SweepResult) TotalDeleted() int {
	return r.CompletedDeleted + r.StaleDeleted
}

// SweepError records a single session that could not be swept.
type SweepError struct {
	SessionID string
	Reason    string
}

// Sweeper deletes monitoring sessions that have outlived their retention
// window.
//
// # Description
//
// A sweep lists every stored session and removes the eligible ones:
//
//   - COMPLETE sessions whose last update is older than the retention window.
//   - ACTIVE sessions idle for more than staleAgeMultiplier times that
//     window. These are interviews that were started and never finished.
//
// Age is measured from the session's UpdatedAt timestamp against the
// injected Clock, and the clock's sanity check gates every sweep: a clock
// outside its valid bounds aborts the pass before anything is deleted.
// Every deletion is appended to the audit log.
//
// # Thread Safety
//
// Safe for concurrent use; the repository provides its own locking.
type Sweeper struct {
	sessions services.SessionRepository
	audit    AuditLog
	clock    Clock
	maxAge   time.Duration
}

// NewSweeper creates a sweeper over the given session repository.
//
// # Inputs
//
//   - sessions: Repository to sweep.
//   - audit: Deletion audit log. May be nil, in which case deletions are
//     not recorded outside slog.
//   - clock: Time source for age decisions. Use NewSystemClock in
//     production and FakeClock in tests.
//   - maxAge: Retention window for COMPLETE sessions. Non-positive values
//     fall back to 24 hours.
//
// # Outputs
//
//   - *Sweeper: Ready to Sweep.
func NewSweeper(sessions services.SessionRepository, audit AuditLog, clock Clock, maxAge time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = defaultSessionMaxAge
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Sweeper{
		sessions: sessions,
		audit:    audit,
		clock:    clock,
		maxAge:   maxAge,
	}
}

// Sweep performs one cleanup pass over the session repository.
//
// # Description
//
// Checks clock sanity, lists all sessions, and deletes the eligible ones.
// Individual delete failures are collected in the result and do not stop
// the pass; listing failures and an insane clock abort it.
//
// # Inputs
//
//   - ctx: Context for cancellation. Checked between sessions.
//
// # Outputs
//
//   - SweepResult: Counts and per-session errors for the pass.
//   - error: Non-nil if the pass could not run or was cancelled.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{
		StartTime: s.clock.Now(),
		Errors:    make([]SweepError, 0),
	}

	if err := s.clock.CheckSanity(); err != nil {
		result.EndTime = s.clock.Now()
		return result, fmt.Errorf("clock sanity check failed: %w", err)
	}

	sessions, err := s.sessions.List(ctx)
	if err != nil {
		result.EndTime = s.clock.Now()
		return result, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.clock.Now()
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			result.EndTime = s.clock.Now()
			return result, err
		}

		result.SessionsExamined++

		operation, expired := s.classify(session, now)
		if !expired {
			continue
		}

		// Serialize before deleting so the audit record can hash what
		// was removed.
		content, err := json.Marshal(session)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{
				SessionID: session.SessionID,
				Reason:    fmt.Sprintf("marshal failed: %v", err),
			})
			continue
		}

		if err := s.sessions.Delete(ctx, session.SessionID); err != nil {
			result.Errors = append(result.Errors, SweepError{
				SessionID: session.SessionID,
				Reason:    fmt.Sprintf("delete failed: %v", err),
			})
			continue
		}

		switch operation {
		case OpDeleteCompleted:
			result.CompletedDeleted++
		case OpDeleteStale:
			result.StaleDeleted++
		}

		if s.audit != nil {
			if _, err := s.audit.LogDeletion(content, session.SessionID, operation, DeletionMetadata{
				PatientID: session.PatientID,
			}); err != nil {
				result.Errors = append(result.Errors, SweepError{
					SessionID: session.SessionID,
					Reason:    fmt.Sprintf("audit write failed: %v", err),
				})
			}
		}
	}

	result.EndTime = s.clock.Now()
	return result, nil
}

// classify decides whether a session has outlived its retention window and
// returns the operation that should be recorded for it.
func (s *Sweeper) classify(session *datatypes.MonitoringSession, now time.Time) (string, bool) {
	age := now.Sub(time.UnixMilli(session.UpdatedAt))

	switch session.Status {
	case datatypes.SessionStatusComplete:
		if age > s.maxAge {
			return OpDeleteCompleted, true
		}
	case datatypes.SessionStatusActive:
		if age > staleAgeMultiplier*s.maxAge {
			return OpDeleteStale, true
		}
	}
	return "", false
}
