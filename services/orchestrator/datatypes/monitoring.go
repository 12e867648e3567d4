// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the monitoring session model and the request/response
// types for the session lifecycle endpoints.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Session Model
// =============================================================================

// Session status values.
const (
	SessionStatusActive   = "ACTIVE"
	SessionStatusComplete = "COMPLETE"
)

// Question-budget phases derived from asked count vs. the min/max bounds.
const (
	PhaseCollecting         = "COLLECTING"
	PhaseReadyForAssessment = "READY_FOR_ASSESSMENT"
	PhaseMustAssess         = "MUST_ASSESS"
)

// QuestionRecord is one asked question together with its validated answer.
type QuestionRecord struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	AnswerType string `json:"answer_type"`
	AnsweredAt int64  `json:"answered_at"`
}

// MonitoringSession is the full state of one structured monitoring session.
//
// # Description
//
// Holds the question tracker state (asked list, per-question negative
// counters), the validated answers, and the final assessment once produced.
// The struct is JSON-serializable so session repositories can persist it
// as a single value.
//
// # Fields
//
//   - SessionID: Unique identifier for this session (UUID v4).
//   - PatientID: The patient this session monitors.
//   - Status: ACTIVE until an assessment completes the session.
//   - MaxQuestions: Per-session question budget, clamped to [3, 6].
//   - AskedQuestions: Exact question texts in ask order. Duplicate entries
//     are never permitted within one session.
//   - NegativeCounts: Per-question count of NO answers, used to steer
//     follow-up generation away from closed lines of questioning.
//   - Answered: Validated question/answer records in submission order.
//   - Assessment: Non-nil once the session has been assessed.
type MonitoringSession struct {
	SessionID      string           `json:"session_id"`
	PatientID      string           `json:"patient_id"`
	Status         string           `json:"status"`
	MaxQuestions   int              `json:"max_questions"`
	AskedQuestions []string         `json:"asked_questions"`
	NegativeCounts map[string]int   `json:"negative_counts"`
	Answered       []QuestionRecord `json:"answered"`
	Assessment     *RiskAssessment  `json:"assessment,omitempty"`
	CreatedAt      int64            `json:"created_at"`
	UpdatedAt      int64            `json:"updated_at"`
}

// NewMonitoringSession creates an ACTIVE session for the patient with a fresh
// session ID. maxQuestions is stored as given; callers clamp it first.
func NewMonitoringSession(patientID string, maxQuestions int) *MonitoringSession {
	now := time.Now().UnixMilli()
	return &MonitoringSession{
		SessionID:      uuid.New().String(),
		PatientID:      patientID,
		Status:         SessionStatusActive,
		MaxQuestions:   maxQuestions,
		AskedQuestions: []string{},
		NegativeCounts: map[string]int{},
		Answered:       []QuestionRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// =============================================================================
// Session Lifecycle Request/Response Types
// =============================================================================

// StartSessionRequest is the body for POST /monitoring/session/start.
// MaxQuestions of zero means "use the configured default".
type StartSessionRequest struct {
	PatientID    string `json:"patient_id" validate:"required"`
	MaxQuestions int    `json:"max_questions" validate:"gte=0"`
}

// Validate validates the StartSessionRequest fields.
func (r *StartSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// StartSessionResponse is returned on successful session creation.
type StartSessionResponse struct {
	SessionID    string `json:"session_id"`
	PatientID    string `json:"patient_id"`
	MaxQuestions int    `json:"max_questions"`
}

// NextQuestionResponse is returned by POST /monitoring/session/:id/next-question.
//
// For a generated question, Question is non-nil and Status is empty. Once the
// session budget is exhausted the terminal marker is returned instead:
// Status "complete" with a null question, telling the caller to request the
// assessment.
type NextQuestionResponse struct {
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status,omitempty"`
	Question       *string `json:"question"`
	AnswerType     string  `json:"answer_type,omitempty"`
	QuestionNumber int     `json:"question_number,omitempty"`
	TotalExpected  int     `json:"total_expected,omitempty"`
}

// SubmitAnswerRequest is the body for POST /monitoring/session/:id/submit-answer.
type SubmitAnswerRequest struct {
	Question   string `json:"question" validate:"required"`
	Answer     string `json:"answer" validate:"required"`
	AnswerType string `json:"answer_type" validate:"required"`
}

// Validate validates the SubmitAnswerRequest fields.
func (r *SubmitAnswerRequest) Validate() error {
	return chatValidate.Struct(r)
}

// SubmitAnswerResponse acknowledges a recorded answer.
type SubmitAnswerResponse struct {
	Success          bool   `json:"success"`
	QuestionRecorded string `json:"question_recorded"`
}

// SessionSnapshotResponse is the read-only session view returned by
// GET /monitoring/session/:id.
type SessionSnapshotResponse struct {
	SessionID      string           `json:"session_id"`
	PatientID      string           `json:"patient_id"`
	Status         string           `json:"status"`
	Phase          string           `json:"phase"`
	MaxQuestions   int              `json:"max_questions"`
	QuestionsAsked int              `json:"questions_asked"`
	Answered       []QuestionRecord `json:"answered"`
	Assessment     *RiskAssessment  `json:"assessment,omitempty"`
}
