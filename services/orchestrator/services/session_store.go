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

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// =============================================================================
// Session Repository
// =============================================================================

// SessionRepository stores monitoring sessions keyed by session ID.
//
// # Description
//
// Sessions are stored and returned as detached values: mutating a session
// returned by Get has no effect until it is written back with Put. Put is an
// upsert. Delete is idempotent; deleting an absent session is not an error.
//
// Implementations must be safe for concurrent use across sessions. Callers
// own serialization of operations on the same session; the repository does
// not referee concurrent read-modify-write cycles on one session ID.
//
// Timestamps are the caller's responsibility: the repository persists
// CreatedAt and UpdatedAt exactly as given.
type SessionRepository interface {
	// Get returns the session, or a *SessionNotFoundError when absent.
	Get(ctx context.Context, sessionID string) (*datatypes.MonitoringSession, error)

	// Put inserts or replaces the session under its SessionID.
	Put(ctx context.Context, session *datatypes.MonitoringSession) error

	// Delete removes the session. Absent sessions are a no-op.
	Delete(ctx context.Context, sessionID string) error

	// List returns all stored sessions in unspecified order.
	List(ctx context.Context) ([]*datatypes.MonitoringSession, error)
}

// cloneSession returns a deep copy so repository-held state never aliases
// caller-held state.
func cloneSession(s *datatypes.MonitoringSession) *datatypes.MonitoringSession {
	if s == nil {
		return nil
	}

	out := *s
	out.AskedQuestions = append([]string(nil), s.AskedQuestions...)
	out.Answered = append([]datatypes.QuestionRecord(nil), s.Answered...)
	if s.NegativeCounts != nil {
		out.NegativeCounts = make(map[string]int, len(s.NegativeCounts))
		for question, count := range s.NegativeCounts {
			out.NegativeCounts[question] = count
		}
	}
	if s.Assessment != nil {
		assessment := *s.Assessment
		assessment.Reason = append([]string(nil), s.Assessment.Reason...)
		out.Assessment = &assessment
	}
	return &out
}

// validateSessionForPut rejects sessions that cannot be keyed.
func validateSessionForPut(session *datatypes.MonitoringSession) error {
	if session == nil {
		return fmt.Errorf("session must not be nil")
	}
	if session.SessionID == "" {
		return fmt.Errorf("session ID must not be empty")
	}
	return nil
}

// =============================================================================
// In-Memory Implementation
// =============================================================================

// MemorySessionRepository is the default process-lifetime session store.
//
// # Description
//
// A map guarded by an RWMutex. Sessions survive for the life of the process
// unless deleted (directly or by the retention sweeper). Suitable for
// single-instance deployments; use the badger-backed repository when
// sessions must survive restarts.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.MonitoringSession
}

// NewMemorySessionRepository creates an empty in-memory repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*datatypes.MonitoringSession),
	}
}

// Get returns a detached copy of the stored session.
func (r *MemorySessionRepository) Get(ctx context.Context, sessionID string) (*datatypes.MonitoringSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return cloneSession(session), nil
}

// Put stores a detached copy of the session.
func (r *MemorySessionRepository) Put(ctx context.Context, session *datatypes.MonitoringSession) error {
	if err := validateSessionForPut(session); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.SessionID] = cloneSession(session)
	return nil
}

// Delete removes the session if present.
func (r *MemorySessionRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// List returns detached copies of every stored session.
func (r *MemorySessionRepository) List(ctx context.Context) ([]*datatypes.MonitoringSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*datatypes.MonitoringSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, cloneSession(session))
	}
	return out, nil
}

// Len reports the number of stored sessions.
func (r *MemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
