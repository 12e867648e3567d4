// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// Shared fixtures for handler tests.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/llm"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/services"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"github.com/NeurowatchAI/Neurowatch/services/triage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testPatientID is the patient most handler tests register.
const testPatientID = "PAT-001"

// Canned generator outputs.
const (
	testQuestionJSON = `{"question": "Have you slept well since discharge?", "answer_type": "YES_NO", "explanation": "Sleep quality screening"}`
	testLowRiskJSON  = `{"risk_level": "LOW", "risk_reason": "Routine recovery question."}`
)

// =============================================================================
// Stub Dependencies
// =============================================================================

// queueLLM implements llm.LLMClient with a response queue; the last response
// repeats once the queue drains.
type queueLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (m *queueLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// stubGate implements services.ReportGate with a fixed verdict.
type stubGate struct {
	open bool
	err  error
}

func (g *stubGate) CanProceed(ctx context.Context, patientID string) (bool, error) {
	return g.open, g.err
}

// stubRetrieval implements services.RetrievalGateway with fixed passages.
type stubRetrieval struct {
	passages []services.Passage
}

func (r *stubRetrieval) Retrieve(ctx context.Context, patientID, query string, kPerSource int) ([]services.Passage, error) {
	out := make([]services.Passage, len(r.passages))
	copy(out, r.passages)
	return out, nil
}

// =============================================================================
// Registry and Session Helpers
// =============================================================================

// newTestRegistry opens a throwaway sqlite-backed store.
func newTestRegistry(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err, "store should open")
	t.Cleanup(func() {
		assert.NoError(t, st.Close(), "store should close cleanly")
	})
	return st
}

// registerTestPatient registers a patient with a neurological history.
func registerTestPatient(t *testing.T, st *store.SQLStore, patientID string) {
	t.Helper()
	err := st.RegisterPatient(context.Background(), &store.Patient{
		PatientID:      patientID,
		Name:           "Asha Rao",
		Age:            58,
		MedicalHistory: "Ischemic stroke, discharged 2025-07-30. On anticoagulants.",
	})
	require.NoError(t, err, "patient registration should succeed")
}

// newTestClassifier builds a risk classifier over the given generator.
func newTestClassifier(t *testing.T, client llm.LLMClient) *services.RiskClassifier {
	t.Helper()
	engine, err := triage.NewEngine()
	require.NoError(t, err, "triage engine should initialize")
	return services.NewRiskClassifier(client, engine)
}

// seedSession stores an ACTIVE session with `asked` benign asked-and-answered
// questions, bypassing the generation path.
func seedSession(t *testing.T, repo services.SessionRepository, patientID string, asked, maxQuestions int) *datatypes.MonitoringSession {
	t.Helper()
	session := datatypes.NewMonitoringSession(patientID, maxQuestions)
	for i := 0; i < asked; i++ {
		question := fmt.Sprintf("How was your sleep on day %d?", i+1)
		session.AskedQuestions = append(session.AskedQuestions, question)
		session.Answered = append(session.Answered, datatypes.QuestionRecord{
			Question:   question,
			Answer:     "YES",
			AnswerType: datatypes.AnswerTypeYesNo,
			AnsweredAt: time.Now().UnixMilli(),
		})
	}
	require.NoError(t, repo.Put(context.Background(), session), "session seed should store")
	return session
}

// =============================================================================
// HTTP Helpers
// =============================================================================

// performRequest runs one request through the router and returns the
// recorder.
func performRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		reader = bytes.NewReader(raw)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

// performRawRequest sends the body bytes as-is, for malformed-JSON cases.
func performRawRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// decodeBody unmarshals the response body into a generic map.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "response should be JSON")
	return out
}
