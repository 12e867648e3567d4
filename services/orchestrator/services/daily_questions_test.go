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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dailyQuestionOutput is a well-formed generator daily question.
const dailyQuestionOutput = `{"question": "Have you experienced any headaches today?", "question_type": "yes_no", "options": ["Yes", "No"], "context": "Headaches were reported earlier this week.", "category": "headache"}`

// seedChatRow appends one history row directly to the store.
func seedChatRow(t *testing.T, st *store.SQLStore, patientID, question, answer, riskLevel string) {
	t.Helper()
	err := st.SaveChatMessage(context.Background(), &store.ChatMessage{
		PatientID: patientID,
		Question:  question,
		Answer:    answer,
		RiskLevel: riskLevel,
	})
	require.NoError(t, err, "seed row should save")
}

// =============================================================================
// GenerateDailyQuestion Tests
// =============================================================================

// TestDailyQuestionService_GenerateDailyQuestion_PatientNotFound verifies
// the registry check.
func TestDailyQuestionService_GenerateDailyQuestion_PatientNotFound(t *testing.T) {
	st := newTestRegistry(t)
	mockLLM := &MockLLMClient{}
	service := NewDailyQuestionService(st, mockLLM)

	question, err := service.GenerateDailyQuestion(context.Background(), "PAT-404")

	require.Error(t, err, "unregistered patient should be rejected")
	assert.True(t, IsPatientNotFound(err), "error should be PatientNotFoundError")
	assert.Nil(t, question)
	assert.Equal(t, 0, mockLLM.Calls, "generator should not run for unknown patients")
}

// TestDailyQuestionService_GenerateDailyQuestion_PersonalizedPrompt verifies
// that history, concerns and the risk trend shape the generation prompt.
func TestDailyQuestionService_GenerateDailyQuestion_PersonalizedPrompt(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	seedChatRow(t, st, testPatientID, "My headache has been getting worse", "Please monitor it closely.", datatypes.RiskLevelMedium)
	seedChatRow(t, st, testPatientID, "I feel dizzy in the mornings", "Noted, thank you.", datatypes.RiskLevelLow)
	mockLLM := &MockLLMClient{Responses: []string{dailyQuestionOutput}}
	service := NewDailyQuestionService(st, mockLLM)

	question, err := service.GenerateDailyQuestion(context.Background(), testPatientID)

	require.NoError(t, err)
	require.NotNil(t, question)
	assert.Equal(t, "Have you experienced any headaches today?", question.Question)
	assert.Equal(t, datatypes.DailyTypeYesNo, question.QuestionType)
	assert.Equal(t, []string{"Yes", "No"}, question.Options)
	assert.Equal(t, datatypes.DailyCategoryHeadache, question.Category)
	assert.False(t, question.Fallback)
	assert.Equal(t, testPatientID, question.PatientID)
	assert.NotEmpty(t, question.GeneratedAt)

	require.Equal(t, 1, mockLLM.Calls)
	prompt := mockLLM.Prompts[0]
	assert.Contains(t, prompt, "Ischemic stroke", "prompt should carry the medical history")
	assert.Contains(t, prompt, "- My headache has been getting worse (Risk: MEDIUM)")
	assert.Contains(t, prompt, "- I feel dizzy in the mornings (Risk: LOW)")
	assert.Less(t,
		strings.Index(prompt, "- I feel dizzy in the mornings"),
		strings.Index(prompt, "- My headache has been getting worse"),
		"concerns should list newest first")
	assert.Contains(t, prompt, "Stable condition (max risk: MEDIUM)")
	assert.True(t, mockLLM.Params[0].JSONMode, "daily generation is a JSON call")
	require.NotNil(t, mockLLM.Params[0].Temperature)
	assert.InDelta(t, 0.7, float64(*mockLLM.Params[0].Temperature), 0.001)
}

// TestDailyQuestionService_GenerateDailyQuestion_EmptyHistoryDefaults
// verifies the prompt placeholders for a brand-new patient.
func TestDailyQuestionService_GenerateDailyQuestion_EmptyHistoryDefaults(t *testing.T) {
	st := newTestRegistry(t)
	err := st.RegisterPatient(context.Background(), &store.Patient{
		PatientID: "PAT-NEW",
		Name:      "Vikram Shah",
		Age:       63,
	})
	require.NoError(t, err)
	mockLLM := &MockLLMClient{Responses: []string{dailyQuestionOutput}}
	service := NewDailyQuestionService(st, mockLLM)

	_, err = service.GenerateDailyQuestion(context.Background(), "PAT-NEW")
	require.NoError(t, err)

	prompt := mockLLM.Prompts[0]
	assert.Contains(t, prompt, "No medical history recorded")
	assert.Contains(t, prompt, "No previous chat history available.")
	assert.Contains(t, prompt, "No significant risk trends")
}

// TestDailyQuestionService_GenerateDailyQuestion_TrendEscalation verifies
// that CRITICAL history dominates the trend description.
func TestDailyQuestionService_GenerateDailyQuestion_TrendEscalation(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	seedChatRow(t, st, testPatientID, "I blacked out this morning", "Call emergency services.", datatypes.RiskLevelCritical)
	mockLLM := &MockLLMClient{Responses: []string{dailyQuestionOutput}}
	service := NewDailyQuestionService(st, mockLLM)

	_, err := service.GenerateDailyQuestion(context.Background(), testPatientID)
	require.NoError(t, err)

	assert.Contains(t, mockLLM.Prompts[0], "CRITICAL risk detected in last 7 days (1 instances)")
}

// TestDailyQuestionService_GenerateDailyQuestion_FallbackOnError verifies
// that a generator outage serves the fixed fallback question.
func TestDailyQuestionService_GenerateDailyQuestion_FallbackOnError(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	mockLLM := &MockLLMClient{Err: errors.New("backend 503")}
	service := NewDailyQuestionService(st, mockLLM)

	question, err := service.GenerateDailyQuestion(context.Background(), testPatientID)

	require.NoError(t, err, "generation failure must never surface")
	require.NotNil(t, question)
	assert.True(t, question.Fallback)
	assert.Equal(t, "How are you feeling today compared to yesterday?", question.Question)
	assert.Equal(t, datatypes.DailyTypeNumericScale, question.QuestionType)
	assert.Equal(t, []string{"Much Worse", "Worse", "Same", "Better", "Much Better"}, question.Options)
	assert.Equal(t, datatypes.DailyCategoryGeneral, question.Category)
	assert.Equal(t, testPatientID, question.PatientID)
	assert.NotEmpty(t, question.GeneratedAt)
}

// TestDailyQuestionService_GenerateDailyQuestion_FallbackOnInvalidOutput
// verifies that unusable output is replaced by the fallback.
func TestDailyQuestionService_GenerateDailyQuestion_FallbackOnInvalidOutput(t *testing.T) {
	cases := []struct {
		name   string
		output string
	}{
		{"not JSON", "here is your question: how do you feel?"},
		{"missing options", `{"question": "Any pain?", "question_type": "yes_no", "context": "x", "category": "pain"}`},
		{"missing category", `{"question": "Any pain?", "question_type": "yes_no", "options": ["Yes", "No"], "context": "x"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestRegistry(t)
			registerTestPatient(t, st, testPatientID)
			mockLLM := &MockLLMClient{Responses: []string{tc.output}}
			service := NewDailyQuestionService(st, mockLLM)

			question, err := service.GenerateDailyQuestion(context.Background(), testPatientID)
			require.NoError(t, err)
			assert.True(t, question.Fallback, "invalid output should serve the fallback")
		})
	}
}

// =============================================================================
// SaveDailyAnswer Tests
// =============================================================================

// TestDailyQuestionService_SaveDailyAnswer_PersistsWithMarkers verifies the
// history row shape for a saved daily answer.
func TestDailyQuestionService_SaveDailyAnswer_PersistsWithMarkers(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	service := NewDailyQuestionService(st, &MockLLMClient{})

	err := service.SaveDailyAnswer(context.Background(), testPatientID, &datatypes.DailyAnswerRequest{
		Question: "Have you experienced any headaches today?",
		Answer:   "Yes",
		Metadata: map[string]any{"category": "headache"},
	})
	require.NoError(t, err, "save should succeed")

	history, err := st.History(context.Background(), testPatientID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	row := history[0]
	assert.Equal(t, dailyQuestionMarker+"Have you experienced any headaches today?", row.Question)
	assert.Equal(t, dailyAnswerMarker+"Yes", row.Answer)
	assert.Equal(t, datatypes.RiskLevelMonitoring, row.RiskLevel)
	assert.Equal(t, "Daily symptom monitoring", row.RiskReason)

	sources := row.SourceDocumentList()
	require.Len(t, sources, 1, "metadata should serialize into the sources column")
	assert.Contains(t, sources[0], `"category":"headache"`)
}

// TestDailyQuestionService_SaveDailyAnswer_PatientNotFound verifies the
// registry check.
func TestDailyQuestionService_SaveDailyAnswer_PatientNotFound(t *testing.T) {
	st := newTestRegistry(t)
	service := NewDailyQuestionService(st, &MockLLMClient{})

	err := service.SaveDailyAnswer(context.Background(), "PAT-404", &datatypes.DailyAnswerRequest{
		Question: "Any pain?",
		Answer:   "No",
	})
	require.Error(t, err)
	assert.True(t, IsPatientNotFound(err))
}

// =============================================================================
// RecentDailyAnswers Tests
// =============================================================================

// TestDailyQuestionService_RecentDailyAnswers_FiltersAndStrips verifies that
// only daily rows are returned and the markers are removed.
func TestDailyQuestionService_RecentDailyAnswers_FiltersAndStrips(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	service := NewDailyQuestionService(st, &MockLLMClient{})

	seedChatRow(t, st, testPatientID, "My headache has been getting worse", "Please rest.", datatypes.RiskLevelMedium)
	seedChatRow(t, st, testPatientID, monitoringQuestionMarker+"Any weakness?", "NO", datatypes.RiskLevelMonitoring)
	require.NoError(t, service.SaveDailyAnswer(context.Background(), testPatientID, &datatypes.DailyAnswerRequest{
		Question: "Rate your sleep quality from 1 to 10",
		Answer:   "6",
	}))
	require.NoError(t, service.SaveDailyAnswer(context.Background(), testPatientID, &datatypes.DailyAnswerRequest{
		Question: "Have you experienced any headaches today?",
		Answer:   "No",
	}))

	resp, err := service.RecentDailyAnswers(context.Background(), testPatientID, 7)
	require.NoError(t, err)
	assert.Equal(t, testPatientID, resp.PatientID)
	assert.Equal(t, 7, resp.Days)
	assert.Equal(t, 2, resp.Total, "only daily rows should match")
	require.Len(t, resp.History, 2)
	assert.Equal(t, "Have you experienced any headaches today?", resp.History[0].Question,
		"entries should be newest first")
	assert.Equal(t, "No", resp.History[0].Answer, "markers should be stripped")
	assert.Equal(t, "Rate your sleep quality from 1 to 10", resp.History[1].Question)
	assert.NotEmpty(t, resp.History[0].Timestamp)
}

// TestDailyQuestionService_RecentDailyAnswers_CapsAtWindow verifies the
// one-answer-per-day cap.
func TestDailyQuestionService_RecentDailyAnswers_CapsAtWindow(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	service := NewDailyQuestionService(st, &MockLLMClient{})

	for i := 1; i <= 5; i++ {
		require.NoError(t, service.SaveDailyAnswer(context.Background(), testPatientID, &datatypes.DailyAnswerRequest{
			Question: fmt.Sprintf("Check-in %d", i),
			Answer:   "Same",
		}))
	}

	resp, err := service.RecentDailyAnswers(context.Background(), testPatientID, 3)
	require.NoError(t, err)
	require.Len(t, resp.History, 3)
	assert.Equal(t, "Check-in 5", resp.History[0].Question)
	assert.Equal(t, "Check-in 3", resp.History[2].Question)
}

// TestDailyQuestionService_RecentDailyAnswers_PatientNotFound verifies the
// registry check.
func TestDailyQuestionService_RecentDailyAnswers_PatientNotFound(t *testing.T) {
	st := newTestRegistry(t)
	service := NewDailyQuestionService(st, &MockLLMClient{})

	_, err := service.RecentDailyAnswers(context.Background(), "PAT-404", 7)
	require.Error(t, err)
	assert.True(t, IsPatientNotFound(err))
}
