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
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// PatientNotFoundError is returned when an operation references a patient ID
// that has no record in the registry. Handlers map it to HTTP 404.
type PatientNotFoundError struct {
	PatientID string
}

// Error implements the error interface for PatientNotFoundError.
func (e *PatientNotFoundError) Error() string {
	return fmt.Sprintf("patient not found: %s", e.PatientID)
}

// IsPatientNotFound checks if an error is a PatientNotFoundError.
//
// # Example
//
//	if services.IsPatientNotFound(err) {
//	    c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
//	    return
//	}
func IsPatientNotFound(err error) bool {
	var target *PatientNotFoundError
	return errors.As(err, &target)
}

// ReportNotUploadedError is returned when monitoring or chat is attempted for
// a patient whose private index holds no medical report passages. Handlers
// map it to HTTP 400 with the structured blocking payload.
//
// # Description
//
// The precondition gate runs before any retrieval or generation: no report
// means no session start and no chat answer. The error carries the canonical
// machine-readable code plus the operator-facing message and action strings
// so every surface reports the block identically.
type ReportNotUploadedError struct {
	PatientID string
}

// Error implements the error interface for ReportNotUploadedError.
func (e *ReportNotUploadedError) Error() string {
	return fmt.Sprintf("no medical report indexed for patient %s", e.PatientID)
}

// Canonical blocking payload fields for ReportNotUploadedError responses.
const (
	ReportGateCode    = "NO_MEDICAL_REPORT"
	ReportGateMessage = "Medical reports are required before symptom monitoring can begin."
	ReportGateAction  = "Please upload patient medical reports before starting monitoring"
)

// IsReportNotUploaded checks if an error is a ReportNotUploadedError.
func IsReportNotUploaded(err error) bool {
	var target *ReportNotUploadedError
	return errors.As(err, &target)
}

// SessionNotFoundError is returned when a session ID does not resolve to a
// stored monitoring session. Handlers map it to HTTP 404.
type SessionNotFoundError struct {
	SessionID string
}

// Error implements the error interface for SessionNotFoundError.
func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("monitoring session not found: %s", e.SessionID)
}

// IsSessionNotFound checks if an error is a SessionNotFoundError.
func IsSessionNotFound(err error) bool {
	var target *SessionNotFoundError
	return errors.As(err, &target)
}

// InvalidAnswerError is returned when a submitted answer fails validation
// against its declared answer type. Handlers map it to HTTP 400.
//
// # Fields
//
//   - AnswerType: The declared type the answer was validated against.
//   - Reason: Human-readable description of the violation.
type InvalidAnswerError struct {
	AnswerType string
	Reason     string
}

// Error implements the error interface for InvalidAnswerError.
func (e *InvalidAnswerError) Error() string {
	return fmt.Sprintf("invalid %s answer: %s", e.AnswerType, e.Reason)
}

// IsInvalidAnswer checks if an error is an InvalidAnswerError.
func IsInvalidAnswer(err error) bool {
	var target *InvalidAnswerError
	return errors.As(err, &target)
}

// AssessmentNotReadyError is returned when an assessment is requested before
// the session has asked the minimum number of questions. Handlers map it to
// HTTP 400.
type AssessmentNotReadyError struct {
	Asked   int
	Minimum int
}

// Error implements the error interface for AssessmentNotReadyError.
func (e *AssessmentNotReadyError) Error() string {
	return fmt.Sprintf("need at least %d answers before assessment, have %d", e.Minimum, e.Asked)
}

// IsAssessmentNotReady checks if an error is an AssessmentNotReadyError.
func IsAssessmentNotReady(err error) bool {
	var target *AssessmentNotReadyError
	return errors.As(err, &target)
}

// DuplicateQuestionError is returned by the question tracker when a generated
// question repeats one already asked in the session. The session manager
// regenerates once on this error; it never reaches a handler.
type DuplicateQuestionError struct {
	Question string
}

// Error implements the error interface for DuplicateQuestionError.
func (e *DuplicateQuestionError) Error() string {
	return fmt.Sprintf("question already asked in this session: %q", e.Question)
}

// IsDuplicateQuestion checks if an error is a DuplicateQuestionError.
func IsDuplicateQuestion(err error) bool {
	var target *DuplicateQuestionError
	return errors.As(err, &target)
}

// GenerationError wraps failures from the LLM backend.
//
// # Description
//
// GenerationError marks an operation that could not complete because the
// generation call itself failed (transport error, backend error response,
// timeout). Risk paths degrade to the keyword fallback on this error;
// question generation surfaces it to the caller.
//
// # Fields
//
//   - Operation: The pipeline step that failed ("question_generation",
//     "risk_assessment", "answer_generation", "daily_question").
//   - Err: The underlying error from the LLM client.
type GenerationError struct {
	Operation string
	Err       error
}

// Error implements the error interface for GenerationError.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Operation, e.Err)
}

// Unwrap exposes the underlying LLM client error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError checks if an error is a GenerationError.
func IsGenerationError(err error) bool {
	var target *GenerationError
	return errors.As(err, &target)
}

// MalformedOutputError marks model output that could not be parsed into the
// expected JSON structure, or parsed but failed validation. Risk paths treat
// it exactly like a generation failure and fall back; it never reaches a
// handler.
//
// # Fields
//
//   - Operation: The pipeline step whose output was rejected.
//   - Raw: The raw model output, kept for span attributes and debugging.
//   - Err: The parse or validation error.
type MalformedOutputError struct {
	Operation string
	Raw       string
	Err       error
}

// Error implements the error interface for MalformedOutputError.
func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output in %s: %v", e.Operation, e.Err)
}

// Unwrap exposes the underlying parse or validation error.
func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// IsMalformedOutput checks if an error is a MalformedOutputError.
func IsMalformedOutput(err error) bool {
	var target *MalformedOutputError
	return errors.As(err, &target)
}
