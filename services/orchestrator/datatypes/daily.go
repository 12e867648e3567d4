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
// This file contains the daily check-in question types.
package datatypes

// Daily question types the generator may produce.
const (
	DailyTypeYesNo        = "yes_no"
	DailyTypeNumericScale = "numeric_scale"
	DailyTypeFrequency    = "frequency"
)

// Daily question categories.
const (
	DailyCategoryHeadache  = "headache"
	DailyCategoryMobility  = "mobility"
	DailyCategoryCognitive = "cognitive"
	DailyCategoryPain      = "pain"
	DailyCategoryOther     = "other"
	DailyCategoryGeneral   = "general"
)

// DailyQuestion is one generated daily check-in question.
//
// # Fields
//
//   - Question: The question text shown to the patient.
//   - QuestionType: One of the DailyType* constants.
//   - Options: Answer options for scale/frequency types.
//   - Context: Why this question was chosen for this patient.
//   - Category: One of the DailyCategory* constants.
//   - Fallback: True when the generic fallback question was served because
//     generation failed.
//   - GeneratedAt: RFC 3339 UTC generation timestamp.
//   - PatientID: The patient this question targets.
type DailyQuestion struct {
	Question     string   `json:"question"`
	QuestionType string   `json:"question_type"`
	Options      []string `json:"options"`
	Context      string   `json:"context"`
	Category     string   `json:"category"`
	Fallback     bool     `json:"fallback,omitempty"`
	GeneratedAt  string   `json:"generated_at"`
	PatientID    string   `json:"patient_id"`
}

// DailyAnswerRequest is the body for POST /patient/:id/daily-question/answer.
// Metadata optionally carries the generated question object the answer
// responds to; it is persisted alongside the answer.
type DailyAnswerRequest struct {
	Question string         `json:"question" validate:"required"`
	Answer   string         `json:"answer" validate:"required,maxbytes"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate validates the DailyAnswerRequest fields.
func (r *DailyAnswerRequest) Validate() error {
	return chatValidate.Struct(r)
}

// DailyHistoryEntry is one answered daily question from the history window.
type DailyHistoryEntry struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp"`
}

// DailyHistoryResponse is returned by GET /patient/:id/daily-question/history.
type DailyHistoryResponse struct {
	PatientID string              `json:"patient_id"`
	Days      int                 `json:"days"`
	Total     int                 `json:"total"`
	History   []DailyHistoryEntry `json:"history"`
}

// DailyQuestionResponse is returned by POST /patient/:id/daily-question. The
// generated question fields are flattened into the envelope.
type DailyQuestionResponse struct {
	Success bool `json:"success"`
	DailyQuestion
}
