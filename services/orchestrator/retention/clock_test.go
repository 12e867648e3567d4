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
	"testing"
	"time"
)

// =============================================================================
// System Clock Sanity Tests
// =============================================================================

// TestSystemClock_CheckSanity_ValidTime tests that a valid system clock
// passes the sanity check.
func TestSystemClock_CheckSanity_ValidTime(t *testing.T) {
	clock := NewSystemClock()

	err := clock.CheckSanity()
	if err != nil {
		t.Errorf("Valid system clock should pass sanity check, got: %v", err)
	}
}

// TestSystemClock_CheckSanity_PastTime tests that a clock set before the
// minimum valid time is rejected.
func TestSystemClock_CheckSanity_PastTime(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Now().Add(1 * time.Hour), // Min in the future = current time is "in the past"
		MaxValidTime:    time.Now().Add(10 * time.Hour),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
	clock := NewSystemClockWithConfig(config)

	err := clock.CheckSanity()
	if err == nil {
		t.Error("Clock before minimum valid time should fail sanity check")
	}
}

// TestSystemClock_CheckSanity_FutureTime tests that a clock set after the
// maximum valid time is rejected.
func TestSystemClock_CheckSanity_FutureTime(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Now().Add(-10 * time.Hour),
		MaxValidTime:    time.Now().Add(-1 * time.Hour), // Max in the past = current time is "in the future"
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
	clock := NewSystemClockWithConfig(config)

	err := clock.CheckSanity()
	if err == nil {
		t.Error("Clock after maximum valid time should fail sanity check")
	}
}

// TestSystemClock_CheckSanity_DetectsBackwardJump tests that a backward time
// jump beyond the threshold is detected.
func TestSystemClock_CheckSanity_DetectsBackwardJump(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2040, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}

	clock := &systemClock{
		config:            config,
		lastKnownGoodTime: time.Now().Add(2 * time.Hour), // Last check was "2 hours from now"
		checkCount:        1,                             // Not first check
	}

	err := clock.CheckSanity()
	if err == nil {
		t.Error("Backward time jump of 2 hours (threshold: 1 hour) should fail")
	}
}

// TestSystemClock_CheckSanity_DetectsForwardJump tests that a forward time
// jump beyond the threshold is detected.
func TestSystemClock_CheckSanity_DetectsForwardJump(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2040, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}

	clock := &systemClock{
		config:            config,
		lastKnownGoodTime: time.Now().Add(-3 * time.Hour), // Last check was 3 hours ago
		checkCount:        1,                              // Not first check
	}

	err := clock.CheckSanity()
	if err == nil {
		t.Error("Forward time jump of 3 hours (threshold: 2 hours) should fail")
	}
}

// TestSystemClock_CheckSanity_AllowsSmallJumps tests that time changes within
// the acceptable threshold are allowed.
func TestSystemClock_CheckSanity_AllowsSmallJumps(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2040, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}

	clock := &systemClock{
		config:            config,
		lastKnownGoodTime: time.Now().Add(-30 * time.Minute), // 30 min ago
		checkCount:        1,
	}

	err := clock.CheckSanity()
	if err != nil {
		t.Errorf("30 minute forward jump should be allowed, got: %v", err)
	}
}

// TestSystemClock_CheckSanity_FirstCheckSkipsJump tests that the first check
// after construction skips jump detection.
func TestSystemClock_CheckSanity_FirstCheckSkipsJump(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2040, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}

	clock := &systemClock{
		config:            config,
		lastKnownGoodTime: time.Now().Add(-100 * time.Hour), // Very old last check
		checkCount:        0,                                // First check
	}

	err := clock.CheckSanity()
	if err != nil {
		t.Errorf("First check should skip jump detection, got: %v", err)
	}
}

// TestSystemClock_Now tests that Now tracks the real clock.
func TestSystemClock_Now(t *testing.T) {
	clock := NewSystemClock()

	diff := time.Since(clock.Now())
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Second {
		t.Errorf("Now should be within 1s of real time, diff was %v", diff)
	}
}

// TestSystemClock_ConcurrentAccess tests that the clock is safe for
// concurrent use.
func TestSystemClock_ConcurrentAccess(t *testing.T) {
	clock := NewSystemClock()

	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = clock.CheckSanity()
				_ = clock.Now()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

// TestSystemClock_DefaultConfig tests that DefaultClockConfig returns
// sensible values.
func TestSystemClock_DefaultConfig(t *testing.T) {
	config := DefaultClockConfig()

	if config.MinValidTime.Year() != 2025 {
		t.Errorf("Expected min year 2025, got %d", config.MinValidTime.Year())
	}

	if config.MaxValidTime.Year() != 2035 {
		t.Errorf("Expected max year 2035, got %d", config.MaxValidTime.Year())
	}

	if config.MaxBackwardJump != 1*time.Hour {
		t.Errorf("Expected max backward jump 1h, got %v", config.MaxBackwardJump)
	}

	if config.MaxForwardJump != 2*time.Hour {
		t.Errorf("Expected max forward jump 2h, got %v", config.MaxForwardJump)
	}
}

// =============================================================================
// Fake Clock Tests
// =============================================================================

// TestFakeClock_TimeStandsStill tests that the fake clock does not move on
// its own.
func TestFakeClock_TimeStandsStill(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Expected %v, got %v", start, clock.Now())
	}
	if !clock.Now().Equal(start) {
		t.Error("Repeated reads should return the same instant")
	}
}

// TestFakeClock_Advance tests that Advance moves time forward.
func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	clock.Advance(25 * time.Hour)

	want := start.Add(25 * time.Hour)
	if !clock.Now().Equal(want) {
		t.Errorf("Expected %v after advancing 25h, got %v", want, clock.Now())
	}
}

// TestFakeClock_Set tests that Set repositions the clock.
func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

	target := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock.Set(target)

	if !clock.Now().Equal(target) {
		t.Errorf("Expected %v after Set, got %v", target, clock.Now())
	}
}

// TestFakeClock_AlwaysSane tests that the fake clock passes sanity checks at
// any instant.
func TestFakeClock_AlwaysSane(t *testing.T) {
	clock := NewFakeClock(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))

	if err := clock.CheckSanity(); err != nil {
		t.Errorf("Fake clock should always pass sanity check, got: %v", err)
	}

	clock.Advance(100 * 365 * 24 * time.Hour)
	if err := clock.CheckSanity(); err != nil {
		t.Errorf("Fake clock should pass after large advance, got: %v", err)
	}
}
