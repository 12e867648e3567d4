// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention implements background cleanup of monitoring sessions that
// have outlived their retention window, with a tamper-evident audit trail of
// every deletion. The sweeper is opt-in; without it sessions live for the
// duration of the process.
package retention

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// Clock Sanity Checking
// =============================================================================

// Clock is the time source for retention decisions.
//
// # Description
//
// Session age is computed against Clock.Now(), and CheckSanity validates the
// clock before any deletion pass. A clock set to the future would delete
// sessions prematurely; a clock set to the past would keep them forever. The
// sweeper refuses to run when the check fails.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// CheckSanity verifies the clock is within acceptable bounds and has
	// not jumped suspiciously since the last check.
	CheckSanity() error
}

// ClockConfig contains validation bounds for the system clock.
//
// # Fields
//
//   - MinValidTime: Earliest acceptable time (default: 2025-01-01)
//   - MaxValidTime: Latest acceptable time (default: 2035-12-31)
//   - MaxBackwardJump: Maximum allowed backward time jump (default: 1 hour)
//   - MaxForwardJump: Maximum allowed forward time jump (default: 2 hours)
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns bounds suitable for production deployments.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

// systemClock implements Clock against the real system time.
//
// # Description
//
// Validates system time against configurable bounds and tracks time
// progression between checks to detect jumps that indicate clock
// manipulation or a bad time correction.
//
// # Thread Safety
//
// All methods are thread-safe via mutex protection.
type systemClock struct {
	config            ClockConfig
	lastKnownGoodTime time.Time
	mu                sync.RWMutex
	checkCount        int64
}

// NewSystemClock creates a system clock with default validation bounds.
func NewSystemClock() Clock {
	return NewSystemClockWithConfig(DefaultClockConfig())
}

// NewSystemClockWithConfig creates a system clock with custom bounds.
//
// # Inputs
//
//   - config: Clock validation configuration.
//
// # Outputs
//
//   - Clock: Ready to validate system time.
func NewSystemClockWithConfig(config ClockConfig) Clock {
	return &systemClock{
		config:            config,
		lastKnownGoodTime: time.Now(),
	}
}

// Now returns the current system time.
func (c *systemClock) Now() time.Time {
	return time.Now()
}

// CheckSanity verifies the system clock is reasonable.
//
// # Description
//
// Performs three validations:
//  1. Current time >= MinValidTime (not in distant past)
//  2. Current time <= MaxValidTime (not in distant future)
//  3. No suspicious jumps from the last known good time
//
// Jump detection is skipped on the first call after construction.
//
// # Outputs
//
//   - error: Non-nil with descriptive message if the clock appears invalid.
func (c *systemClock) CheckSanity() error {
	now := time.Now()

	if now.Before(c.config.MinValidTime) {
		return fmt.Errorf("clock sanity: time %v is before minimum valid time %v (possible clock set to past)",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}

	if now.After(c.config.MaxValidTime) {
		return fmt.Errorf("clock sanity: time %v is after maximum valid time %v (possible clock set to future)",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.RLock()
	lastGood := c.lastKnownGoodTime
	checkCount := c.checkCount
	c.mu.RUnlock()

	if checkCount > 0 {
		timeDiff := now.Sub(lastGood)

		if timeDiff < -c.config.MaxBackwardJump {
			return fmt.Errorf("clock sanity: suspicious backward jump of %v detected (max allowed: %v)",
				-timeDiff, c.config.MaxBackwardJump)
		}

		if timeDiff > c.config.MaxForwardJump {
			return fmt.Errorf("clock sanity: suspicious forward jump of %v detected (max allowed: %v)",
				timeDiff, c.config.MaxForwardJump)
		}
	}

	c.mu.Lock()
	c.lastKnownGoodTime = now
	c.checkCount++
	c.mu.Unlock()

	return nil
}

// =============================================================================
// Fake Clock (for testing)
// =============================================================================

// FakeClock is a manually advanced clock that always passes sanity checks.
//
// # Description
//
// Used in tests to make session-age decisions deterministic. Time stands
// still until Advance or Set is called.
//
// # Thread Safety
//
// Safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a fake clock frozen at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake clock's current instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// CheckSanity always passes.
func (c *FakeClock) CheckSanity() error {
	return nil
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to the given instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
