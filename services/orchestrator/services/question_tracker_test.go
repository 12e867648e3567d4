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
	"fmt"
	"testing"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampQuestionBudget(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		def       int
		want      int
	}{
		{"zero uses default", 0, 5, 5},
		{"negative uses default", -2, 4, 4},
		{"below minimum clamps up", 1, 5, MinQuestionsBound},
		{"above maximum clamps down", 10, 5, MaxQuestionsBound},
		{"in range passes through", 4, 5, 4},
		{"minimum boundary", 3, 5, 3},
		{"maximum boundary", 6, 5, 6},
		{"default below minimum clamps up", 0, 1, MinQuestionsBound},
		{"default above maximum clamps down", 0, 20, MaxQuestionsBound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampQuestionBudget(tt.requested, tt.def))
		})
	}
}

func TestQuestionTracker_RecordAndDetectDuplicates(t *testing.T) {
	session := &datatypes.MonitoringSession{}
	tracker := NewQuestionTracker(session)

	assert.False(t, tracker.HasAsked("Have you had any headaches?"))
	require.NoError(t, tracker.RecordQuestion("Have you had any headaches?"))
	assert.True(t, tracker.HasAsked("Have you had any headaches?"))
	assert.Equal(t, 1, tracker.Asked())

	err := tracker.RecordQuestion("Have you had any headaches?")
	require.Error(t, err)
	assert.True(t, IsDuplicateQuestion(err))
	assert.Equal(t, []string{"Have you had any headaches?"}, session.AskedQuestions,
		"a rejected duplicate is never recorded")

	// Exact match only: a reworded question is a new question.
	require.NoError(t, tracker.RecordQuestion("have you had any headaches?"))
	assert.Equal(t, 2, tracker.Asked())
}

func TestQuestionTracker_WritesThroughToSession(t *testing.T) {
	session := &datatypes.MonitoringSession{}
	tracker := NewQuestionTracker(session)

	require.NoError(t, tracker.RecordQuestion("Any dizziness when standing?"))
	tracker.MarkNegative("Any dizziness when standing?")
	tracker.MarkNegative("Any dizziness when standing?")

	assert.Equal(t, []string{"Any dizziness when standing?"}, session.AskedQuestions)
	assert.Equal(t, 2, session.NegativeCounts["Any dizziness when standing?"])
}

func TestQuestionTracker_MarkNegativeInitializesMap(t *testing.T) {
	session := &datatypes.MonitoringSession{NegativeCounts: nil}
	tracker := NewQuestionTracker(session)

	tracker.MarkNegative("Any vision changes?")

	require.NotNil(t, session.NegativeCounts)
	assert.Equal(t, 1, session.NegativeCounts["Any vision changes?"])
}

func TestQuestionTracker_BudgetChecks(t *testing.T) {
	session := &datatypes.MonitoringSession{}
	tracker := NewQuestionTracker(session)

	assert.True(t, tracker.CanAskMore(2))
	assert.False(t, tracker.MeetsMinimum(1))

	require.NoError(t, tracker.RecordQuestion("Q1"))
	require.NoError(t, tracker.RecordQuestion("Q2"))

	assert.False(t, tracker.CanAskMore(2))
	assert.True(t, tracker.MeetsMinimum(1))
	assert.True(t, tracker.MeetsMinimum(2))
	assert.False(t, tracker.MeetsMinimum(3))
}

func TestQuestionTracker_Phase(t *testing.T) {
	tests := []struct {
		name  string
		asked int
		want  string
	}{
		{"below minimum collects", 2, datatypes.PhaseCollecting},
		{"at minimum ready", 3, datatypes.PhaseReadyForAssessment},
		{"between bounds ready", 4, datatypes.PhaseReadyForAssessment},
		{"at maximum must assess", 5, datatypes.PhaseMustAssess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &datatypes.MonitoringSession{}
			for i := 0; i < tt.asked; i++ {
				session.AskedQuestions = append(session.AskedQuestions, fmt.Sprintf("Q%d", i+1))
			}
			tracker := NewQuestionTracker(session)
			assert.Equal(t, tt.want, tracker.Phase(3, 5))
		})
	}
}

func TestQuestionTracker_SummaryIsACopy(t *testing.T) {
	session := &datatypes.MonitoringSession{}
	tracker := NewQuestionTracker(session)
	require.NoError(t, tracker.RecordQuestion("Any new weakness?"))
	tracker.MarkNegative("Any new weakness?")

	summary := tracker.Summary()
	require.Equal(t, 1, summary.TotalQuestionsAsked)
	require.Equal(t, []string{"Any new weakness?"}, summary.Questions)
	require.Equal(t, map[string]int{"Any new weakness?": 1}, summary.NegativeResponses)

	summary.Questions[0] = "mutated"
	summary.NegativeResponses["Any new weakness?"] = 99

	assert.Equal(t, "Any new weakness?", session.AskedQuestions[0])
	assert.Equal(t, 1, session.NegativeCounts["Any new weakness?"])
}
