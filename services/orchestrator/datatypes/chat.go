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
// This file contains request and response types for the freeform chat
// endpoint. For monitoring session types, see monitoring.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for request datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Checks byte length (not rune count) to prevent
// memory exhaustion with large payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Query Request Types
// =============================================================================

// ChatQueryRequest represents a freeform chat request body.
//
// # Description
//
// ChatQueryRequest carries one patient message through the gated
// retrieve-answer-assess pipeline. This is used for the POST /chat/query
// endpoint. The patient must have an indexed medical report before the
// pipeline proceeds.
//
// # Fields
//
//   - PatientID: Required. The patient sending the message.
//   - Message: Required. Free-text question or symptom report.
//     Content is limited to 32KB.
//
// # Validation
//
// Uses go-playground/validator:
//   - PatientID: required
//   - Message: required, max 32768 bytes (32KB)
type ChatQueryRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
	Message   string `json:"message" validate:"required,maxbytes"`
}

// Validate validates the ChatQueryRequest fields.
//
// # Description
//
// Performs validation using go-playground/validator tags and custom
// validators. This method should be called after binding the JSON request.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (r *ChatQueryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Chat Query Response Types
// =============================================================================

// ChatQueryResponse represents the response from a freeform chat query.
//
// # Fields
//
//   - Answer: The generated natural-language answer.
//   - RiskLevel: Risk tag for this exchange (LOW, MEDIUM, HIGH or CRITICAL).
//   - RiskReason: Brief explanation of the risk tag.
//   - SourceDocuments: Source labels of the retrieved passages that grounded
//     the answer, shared corpus first.
//   - Timestamp: RFC 3339 UTC timestamp of the response.
type ChatQueryResponse struct {
	Answer          string   `json:"answer"`
	RiskLevel       string   `json:"risk_level"`
	RiskReason      string   `json:"risk_reason"`
	SourceDocuments []string `json:"source_documents"`
	Timestamp       string   `json:"timestamp"`
}

// NewChatQueryResponse creates a ChatQueryResponse stamped with the current
// UTC time. A nil sources slice is normalized to an empty one so the JSON
// field is always an array.
func NewChatQueryResponse(answer, riskLevel, riskReason string, sources []string) *ChatQueryResponse {
	if sources == nil {
		sources = []string{}
	}
	return &ChatQueryResponse{
		Answer:          answer,
		RiskLevel:       riskLevel,
		RiskReason:      riskReason,
		SourceDocuments: sources,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// Conversational Memory
// =============================================================================

// Exchange is one question/answer pair of conversational memory. The chat
// pipeline folds the most recent exchanges into the answer prompt and keeps
// a short rolling window per patient in memory.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
