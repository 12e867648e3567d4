// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatTestPassages is a fixed retrieval result with one shared and one
// private passage.
func chatTestPassages() []services.Passage {
	return []services.Passage{
		{
			Content: "Gradual return of energy is expected in the weeks after an ischemic stroke.",
			Source:  "stroke-care-guide.pdf",
			Class:   datatypes.SharedClinicalClass,
		},
		{
			Content: "Patient discharged after left MCA ischemic stroke, on apixaban.",
			Source:  "discharge-summary.pdf",
			Class:   datatypes.PatientClassName(datatypes.DefaultPatientClassPrefix, testPatientID),
		},
	}
}

// newChatRouter wires the chat endpoints over a real service with stubbed
// gate, retrieval and generator.
func newChatRouter(t *testing.T, st *store.SQLStore, gateOpen bool, responses ...string) *gin.Engine {
	t.Helper()
	mock := &queueLLM{responses: responses}
	chat := services.NewChatRAGService(st, &stubGate{open: gateOpen},
		&stubRetrieval{passages: chatTestPassages()}, mock, newTestClassifier(t, mock))

	router := gin.New()
	router.POST("/chat/query", HandleChatQuery(chat))
	router.GET("/patient/:patientId/chat/history", GetChatHistory(st))
	router.DELETE("/patient/:patientId/chat/history", ClearChatHistory(st, chat))
	return router
}

// =============================================================================
// HandleChatQuery Tests
// =============================================================================

// TestHandleChatQuery_Success verifies the full gated pipeline response
// shape.
func TestHandleChatQuery_Success(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	router := newChatRouter(t, st, true,
		"Fatigue is common in early recovery. Rest and keep your follow-up appointment.",
		testLowRiskJSON,
	)

	w := performRequest(router, "POST", "/chat/query", datatypes.ChatQueryRequest{
		PatientID: testPatientID,
		Message:   "I have been tired all week, is that normal?",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["answer"], "Fatigue is common")
	assert.Equal(t, "LOW", body["risk_level"])
	assert.Equal(t, "Routine recovery question.", body["risk_reason"])
	assert.NotEmpty(t, body["timestamp"])

	sources, ok := body["source_documents"].([]any)
	require.True(t, ok, "source_documents should be an array")
	require.Len(t, sources, 2)
	assert.Equal(t, "stroke-care-guide.pdf", sources[0], "shared corpus should come first")
	assert.Equal(t, "discharge-summary.pdf", sources[1])
}

// TestHandleChatQuery_GateBlocked verifies the structured 400 blocking
// payload when no medical report is indexed.
func TestHandleChatQuery_GateBlocked(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	router := newChatRouter(t, st, false)

	w := performRequest(router, "POST", "/chat/query", datatypes.ChatQueryRequest{
		PatientID: testPatientID,
		Message:   "Can I start monitoring?",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, services.ReportGateCode, body["error"])
	assert.Equal(t, services.ReportGateMessage, body["message"])
	assert.Equal(t, services.ReportGateAction, body["action"])
}

// TestHandleChatQuery_PatientNotFound verifies the 404 mapping.
func TestHandleChatQuery_PatientNotFound(t *testing.T) {
	st := newTestRegistry(t)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "POST", "/chat/query", datatypes.ChatQueryRequest{
		PatientID: "PAT-404",
		Message:   "Hello?",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "patient not found: PAT-404")
}

// TestHandleChatQuery_InvalidJSON verifies malformed bodies are rejected.
func TestHandleChatQuery_InvalidJSON(t *testing.T) {
	st := newTestRegistry(t)
	router := newChatRouter(t, st, true)

	w := performRawRequest(router, "POST", "/chat/query", `{"patient_id": `)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Invalid request body", body["error"])
}

// TestHandleChatQuery_MissingMessage verifies request validation runs after
// binding.
func TestHandleChatQuery_MissingMessage(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "POST", "/chat/query", map[string]any{
		"patient_id": testPatientID,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "Message")
}

// =============================================================================
// GetChatHistory Tests
// =============================================================================

// seedQuestions are the exchange questions seedChatHistory persists, oldest
// first.
var seedQuestions = []string{
	"How often should I walk?",
	"Is mild tiredness expected?",
	"When is my next check-up?",
}

// seedChatHistory persists the first `n` seed exchanges for the patient.
func seedChatHistory(t *testing.T, st *store.SQLStore, patientID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg := &store.ChatMessage{
			PatientID: patientID,
			Question:  seedQuestions[i],
			Answer:    "You are doing fine.",
			RiskLevel: "LOW",
		}
		require.NoError(t, st.SaveChatMessage(context.Background(), msg))
	}
}

// TestGetChatHistory_ReturnsChronologicalEntries verifies the response shape
// and ordering.
func TestGetChatHistory_ReturnsChronologicalEntries(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	seedChatHistory(t, st, testPatientID, 2)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "GET", "/patient/"+testPatientID+"/chat/history", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, testPatientID, body["patient_id"])
	assert.Equal(t, float64(2), body["total"])

	history, ok := body["history"].([]any)
	require.True(t, ok, "history should be an array")
	require.Len(t, history, 2)
	first := history[0].(map[string]any)
	assert.Equal(t, "How often should I walk?", first["question"], "oldest entry should come first")
	assert.Equal(t, "LOW", first["risk_level"])
	assert.NotEmpty(t, first["timestamp"])
}

// TestGetChatHistory_RespectsLimit verifies the newest rows win when a limit
// is applied.
func TestGetChatHistory_RespectsLimit(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	seedChatHistory(t, st, testPatientID, 3)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "GET", "/patient/"+testPatientID+"/chat/history?limit=2", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["total"])

	history := body["history"].([]any)
	require.Len(t, history, 2)
	assert.Equal(t, "Is mild tiredness expected?", history[0].(map[string]any)["question"],
		"window should hold the newest rows in chronological order")
	assert.Equal(t, "When is my next check-up?", history[1].(map[string]any)["question"])
}

// TestGetChatHistory_PatientNotFound verifies the 404 mapping.
func TestGetChatHistory_PatientNotFound(t *testing.T) {
	st := newTestRegistry(t)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "GET", "/patient/PAT-404/chat/history", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestGetChatHistory_EmptyHistory verifies a registered patient with no
// exchanges gets an empty array, not null.
func TestGetChatHistory_EmptyHistory(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "GET", "/patient/"+testPatientID+"/chat/history", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["total"])
	history, ok := body["history"].([]any)
	require.True(t, ok, "history should be an empty array")
	assert.Empty(t, history)
}

// =============================================================================
// ClearChatHistory Tests
// =============================================================================

// TestClearChatHistory_RemovesAllRows verifies deletion and the confirmation
// message.
func TestClearChatHistory_RemovesAllRows(t *testing.T) {
	st := newTestRegistry(t)
	registerTestPatient(t, st, testPatientID)
	seedChatHistory(t, st, testPatientID, 3)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "DELETE", "/patient/"+testPatientID+"/chat/history", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Chat history cleared for patient "+testPatientID, body["message"])

	rows, err := st.History(context.Background(), testPatientID, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "history should be empty after clearing")
}

// TestClearChatHistory_PatientNotFound verifies the 404 mapping.
func TestClearChatHistory_PatientNotFound(t *testing.T) {
	st := newTestRegistry(t)
	router := newChatRouter(t, st, true)

	w := performRequest(router, "DELETE", "/patient/PAT-404/chat/history", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
