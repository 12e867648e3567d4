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
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// Hard bounds on the per-session question budget. Requested budgets outside
// this range are clamped, never rejected.
const (
	MinQuestionsBound = 3
	MaxQuestionsBound = 6
)

// ClampQuestionBudget resolves a requested session budget against the
// configured default and the hard [3, 6] bounds. A non-positive request
// means "use the default".
func ClampQuestionBudget(requested, configuredDefault int) int {
	if requested <= 0 {
		requested = configuredDefault
	}
	if requested < MinQuestionsBound {
		return MinQuestionsBound
	}
	if requested > MaxQuestionsBound {
		return MaxQuestionsBound
	}
	return requested
}

// QuestionTracker enforces the question budget and no-repeat rule for one
// monitoring session.
//
// # Description
//
// The tracker is a view over the session's persisted tracker state
// (AskedQuestions and NegativeCounts); mutations write through to the
// session so a repository Put after tracker use persists everything.
// Duplicate detection is an exact, case-sensitive string match. That is a
// deliberate simplification: the generation prompt already instructs the
// model not to repeat, and near-duplicate detection would need semantic
// comparison this layer should not own.
//
// # Thread Safety
//
// Not safe for concurrent use. Callers serialize access per session.
type QuestionTracker struct {
	session *datatypes.MonitoringSession
}

// NewQuestionTracker wraps the session's tracker state.
func NewQuestionTracker(session *datatypes.MonitoringSession) *QuestionTracker {
	return &QuestionTracker{session: session}
}

// HasAsked reports whether the exact question text was already asked in
// this session.
func (t *QuestionTracker) HasAsked(question string) bool {
	for _, asked := range t.session.AskedQuestions {
		if asked == question {
			return true
		}
	}
	return false
}

// RecordQuestion appends the question to the asked list.
//
// Returns a DuplicateQuestionError without recording when the exact text was
// already asked; the asked list never contains duplicates.
func (t *QuestionTracker) RecordQuestion(question string) error {
	if t.HasAsked(question) {
		return &DuplicateQuestionError{Question: question}
	}
	t.session.AskedQuestions = append(t.session.AskedQuestions, question)
	return nil
}

// MarkNegative increments the negative-response counter for the question.
// Follow-up generation uses the counters to steer away from closed lines of
// questioning.
func (t *QuestionTracker) MarkNegative(question string) {
	if t.session.NegativeCounts == nil {
		t.session.NegativeCounts = map[string]int{}
	}
	t.session.NegativeCounts[question]++
}

// Asked returns the number of questions asked so far.
func (t *QuestionTracker) Asked() int {
	return len(t.session.AskedQuestions)
}

// CanAskMore reports whether the session budget still has room.
func (t *QuestionTracker) CanAskMore(maxQuestions int) bool {
	return len(t.session.AskedQuestions) < maxQuestions
}

// MeetsMinimum reports whether enough questions were asked for an
// assessment.
func (t *QuestionTracker) MeetsMinimum(minQuestions int) bool {
	return len(t.session.AskedQuestions) >= minQuestions
}

// Phase classifies the session position within the [min, max] budget.
//
// COLLECTING below the minimum, READY_FOR_ASSESSMENT once the minimum is
// met, MUST_ASSESS once the budget is exhausted.
func (t *QuestionTracker) Phase(minQuestions, maxQuestions int) string {
	asked := len(t.session.AskedQuestions)
	switch {
	case asked >= maxQuestions:
		return datatypes.PhaseMustAssess
	case asked >= minQuestions:
		return datatypes.PhaseReadyForAssessment
	default:
		return datatypes.PhaseCollecting
	}
}

// TrackerSummary is a point-in-time summary of tracker state.
type TrackerSummary struct {
	TotalQuestionsAsked int            `json:"total_questions_asked"`
	Questions           []string       `json:"questions"`
	NegativeResponses   map[string]int `json:"negative_responses"`
}

// Summary snapshots the tracker state. The returned slices and maps are
// copies; mutating them does not affect the session.
func (t *QuestionTracker) Summary() TrackerSummary {
	questions := make([]string, len(t.session.AskedQuestions))
	copy(questions, t.session.AskedQuestions)

	negatives := make(map[string]int, len(t.session.NegativeCounts))
	for q, n := range t.session.NegativeCounts {
		negatives[q] = n
	}

	return TrackerSummary{
		TotalQuestionsAsked: len(questions),
		Questions:           questions,
		NegativeResponses:   negatives,
	}
}
