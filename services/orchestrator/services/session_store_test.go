// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

// repoFactories returns a constructor per repository implementation so the
// contract tests run against both. The badger variant lives in a per-test
// temp directory and is closed on cleanup.
func repoFactories() map[string]func(t *testing.T) SessionRepository {
	return map[string]func(t *testing.T) SessionRepository{
		"memory": func(t *testing.T) SessionRepository {
			t.Helper()
			return NewMemorySessionRepository()
		},
		"badger": func(t *testing.T) SessionRepository {
			t.Helper()
			repo, err := OpenBadgerSessionRepository(t.TempDir(), nil)
			require.NoError(t, err, "badger repository should open")
			t.Cleanup(func() {
				_ = repo.Close()
			})
			return repo
		},
	}
}

// newStoredSession builds a session with representative state in every field.
func newStoredSession(patientID string) *datatypes.MonitoringSession {
	session := datatypes.NewMonitoringSession(patientID, 6)
	session.AskedQuestions = []string{"Any headaches today?"}
	session.NegativeCounts = map[string]int{"Any headaches today?": 1}
	session.Answered = []datatypes.QuestionRecord{
		{
			Question:   "Any headaches today?",
			Answer:     "NO",
			AnswerType: datatypes.AnswerTypeYesNo,
			AnsweredAt: 1700000000000,
		},
	}
	return session
}

// =============================================================================
// Repository Contract Tests
// =============================================================================

// TestSessionRepository_GetMissing verifies both implementations surface a
// typed not-found error for unknown session IDs.
func TestSessionRepository_GetMissing(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)

			session, err := repo.Get(context.Background(), "no-such-session")

			assert.Nil(t, session)
			require.Error(t, err)
			assert.True(t, IsSessionNotFound(err),
				"expected SessionNotFoundError, got %T", err)
		})
	}
}

// TestSessionRepository_PutGetRoundTrip verifies a full session round-trips
// with all tracker state intact.
func TestSessionRepository_PutGetRoundTrip(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)
			stored := newStoredSession("patient-001")

			require.NoError(t, repo.Put(context.Background(), stored))

			got, err := repo.Get(context.Background(), stored.SessionID)
			require.NoError(t, err)
			assert.Equal(t, stored.SessionID, got.SessionID)
			assert.Equal(t, "patient-001", got.PatientID)
			assert.Equal(t, datatypes.SessionStatusActive, got.Status)
			assert.Equal(t, 6, got.MaxQuestions)
			assert.Equal(t, stored.AskedQuestions, got.AskedQuestions)
			assert.Equal(t, stored.NegativeCounts, got.NegativeCounts)
			assert.Equal(t, stored.Answered, got.Answered)
			assert.Equal(t, stored.CreatedAt, got.CreatedAt)
		})
	}
}

// TestSessionRepository_PutUpsert verifies Put replaces an existing record.
func TestSessionRepository_PutUpsert(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)
			stored := newStoredSession("patient-001")
			require.NoError(t, repo.Put(context.Background(), stored))

			stored.Status = datatypes.SessionStatusComplete
			stored.Assessment = &datatypes.RiskAssessment{
				RiskLevel:           datatypes.RiskLevelLow,
				Reason:              []string{"No concerning symptoms reported"},
				Action:              "You are doing well. Continue your normal routine and prescribed medications.",
				TotalQuestionsAsked: 1,
				Timestamp:           "2025-06-01T12:00:00Z",
			}
			require.NoError(t, repo.Put(context.Background(), stored))

			got, err := repo.Get(context.Background(), stored.SessionID)
			require.NoError(t, err)
			assert.Equal(t, datatypes.SessionStatusComplete, got.Status)
			require.NotNil(t, got.Assessment)
			assert.Equal(t, datatypes.RiskLevelLow, got.Assessment.RiskLevel)
			assert.Equal(t, []string{"No concerning symptoms reported"}, got.Assessment.Reason)
		})
	}
}

// TestSessionRepository_Detached verifies mutating a returned session does
// not leak into repository state until Put is called again.
func TestSessionRepository_Detached(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)
			stored := newStoredSession("patient-001")
			require.NoError(t, repo.Put(context.Background(), stored))

			first, err := repo.Get(context.Background(), stored.SessionID)
			require.NoError(t, err)
			first.AskedQuestions = append(first.AskedQuestions, "Any dizziness?")
			first.NegativeCounts["Any dizziness?"] = 2
			first.Status = datatypes.SessionStatusComplete

			second, err := repo.Get(context.Background(), stored.SessionID)
			require.NoError(t, err)
			assert.Len(t, second.AskedQuestions, 1,
				"mutation of a returned session should not be visible")
			assert.NotContains(t, second.NegativeCounts, "Any dizziness?")
			assert.Equal(t, datatypes.SessionStatusActive, second.Status)
		})
	}
}

// TestSessionRepository_PutValidation verifies unkeyable sessions are
// rejected.
func TestSessionRepository_PutValidation(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)

			assert.Error(t, repo.Put(context.Background(), nil),
				"nil session should be rejected")

			blank := newStoredSession("patient-001")
			blank.SessionID = ""
			assert.Error(t, repo.Put(context.Background(), blank),
				"empty session ID should be rejected")
		})
	}
}

// TestSessionRepository_Delete verifies deletion removes the record and that
// deleting an absent session is a no-op.
func TestSessionRepository_Delete(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)
			stored := newStoredSession("patient-001")
			require.NoError(t, repo.Put(context.Background(), stored))

			require.NoError(t, repo.Delete(context.Background(), stored.SessionID))

			_, err := repo.Get(context.Background(), stored.SessionID)
			assert.True(t, IsSessionNotFound(err))

			// Absent delete is not an error.
			assert.NoError(t, repo.Delete(context.Background(), stored.SessionID))
			assert.NoError(t, repo.Delete(context.Background(), "never-existed"))
		})
	}
}

// TestSessionRepository_List verifies all stored sessions come back.
func TestSessionRepository_List(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			repo := factory(t)

			empty, err := repo.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, empty)

			ids := make(map[string]bool)
			for i := 0; i < 3; i++ {
				session := newStoredSession(fmt.Sprintf("patient-%03d", i))
				require.NoError(t, repo.Put(context.Background(), session))
				ids[session.SessionID] = true
			}

			listed, err := repo.List(context.Background())
			require.NoError(t, err)
			require.Len(t, listed, 3)
			for _, session := range listed {
				assert.True(t, ids[session.SessionID],
					"listed unknown session %s", session.SessionID)
			}
		})
	}
}

// =============================================================================
// Memory-Specific Tests
// =============================================================================

// TestMemorySessionRepository_ConcurrentAccess verifies cross-session safety
// of the map-based store under concurrent writers and readers.
func TestMemorySessionRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			session := newStoredSession(fmt.Sprintf("patient-%03d", n))
			if err := repo.Put(ctx, session); err != nil {
				t.Errorf("put failed: %v", err)
				return
			}
			if _, err := repo.Get(ctx, session.SessionID); err != nil {
				t.Errorf("get failed: %v", err)
			}
			if _, err := repo.List(ctx); err != nil {
				t.Errorf("list failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, repo.Len())
}

// =============================================================================
// Badger-Specific Tests
// =============================================================================

// TestBadgerSessionRepository_SurvivesReopen verifies sessions persist across
// a close/reopen cycle.
func TestBadgerSessionRepository_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	repo, err := OpenBadgerSessionRepository(dir, nil)
	require.NoError(t, err)

	stored := newStoredSession("patient-001")
	require.NoError(t, repo.Put(context.Background(), stored))
	require.NoError(t, repo.Close())

	reopened, err := OpenBadgerSessionRepository(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), stored.SessionID)
	require.NoError(t, err)
	assert.Equal(t, stored.PatientID, got.PatientID)
	assert.Equal(t, stored.AskedQuestions, got.AskedQuestions)
}

// TestBadgerSessionRepository_EmptyPath verifies the path guard.
func TestBadgerSessionRepository_EmptyPath(t *testing.T) {
	repo, err := OpenBadgerSessionRepository("", nil)

	assert.Nil(t, repo)
	assert.Error(t, err)
}

// TestBadgerSessionRepository_CancelledContext verifies context cancellation
// short-circuits before touching the database.
func TestBadgerSessionRepository_CancelledContext(t *testing.T) {
	repo, err := OpenBadgerSessionRepository(t.TempDir(), nil)
	require.NoError(t, err)
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = repo.Get(ctx, "any")
	assert.ErrorIs(t, err, context.Canceled)

	err = repo.Put(ctx, newStoredSession("patient-001"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = repo.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
