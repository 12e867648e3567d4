// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating calls to external systems (Weaviate, LLM backends, the
//     embedding service)
//   - Enforcing the report gate and clinical validation rules
//   - Managing persistence and error handling
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/llm"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/observability"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// chatRAGTracer is the OpenTelemetry tracer for ChatRAGService operations.
var chatRAGTracer = otel.Tracer("neurowatch.orchestrator.services.chat_rag")

// Generation settings for freeform chat answers. Answers are conversational,
// so the temperature sits higher than the monitoring paths. Temperature and
// token cap are fallbacks; GENERATION_TEMPERATURE and GENERATION_MAX_TOKENS
// override them at construction.
const (
	chatTemperature = 0.7
	chatMaxTokens   = 500
	chatCallTimeout = 60 * time.Second
)

// Conversational memory bounds. The rolling window keeps the last
// memoryWindowExchanges per patient; the answer prompt folds in only the
// trailing promptHistoryExchanges of those.
const (
	memoryWindowExchanges  = 4
	promptHistoryExchanges = 2
)

// =============================================================================
// ChatRAGService
// =============================================================================

// ChatRAGService handles freeform patient chat with retrieval-augmented
// generation. It orchestrates the flow between:
//   - Patient registry: The patient must be registered
//   - Report gate: The patient must have an indexed medical report
//   - Retrieval gateway: Clinical passages ground every answer
//   - LLM client: Generates the monitoring-persona answer
//   - Risk classifier: Tags each exchange LOW through CRITICAL
//
// The service keeps a short rolling conversation window per patient in
// memory for prompt continuity; everything durable goes through the store.
//
// Usage:
//
//	service := NewChatRAGService(registry, gate, retrieval, llmClient, classifier)
//	resp, err := service.Process(ctx, &req)
type ChatRAGService struct {
	registry   store.Store
	gate       ReportGate
	retrieval  RetrievalGateway
	llmClient  llm.LLMClient
	classifier *RiskClassifier

	answerTemperature float32
	answerMaxTokens   int

	mu     sync.Mutex
	memory map[string][]datatypes.Exchange
}

// NewChatRAGService creates a new ChatRAGService with the provided
// dependencies.
//
// # Inputs
//
//   - registry: Patient registry and chat history store.
//   - gate: Report gate consulted before any answer is generated.
//   - retrieval: Gateway for clinical passages from both indices.
//   - llmClient: Generator for the conversational answer.
//   - classifier: Risk classifier for the per-exchange tag.
//
// # Outputs
//
//   - *ChatRAGService: The initialized service.
func NewChatRAGService(
	registry store.Store,
	gate ReportGate,
	retrieval RetrievalGateway,
	llmClient llm.LLMClient,
	classifier *RiskClassifier,
) *ChatRAGService {
	return &ChatRAGService{
		registry:          registry,
		gate:              gate,
		retrieval:         retrieval,
		llmClient:         llmClient,
		classifier:        classifier,
		answerTemperature: envFloat32("GENERATION_TEMPERATURE", chatTemperature),
		answerMaxTokens:   envInt("GENERATION_MAX_TOKENS", chatMaxTokens),
		memory:            make(map[string][]datatypes.Exchange),
	}
}

// envFloat32 reads a float from the environment, falling back on absence or
// parse failure.
func envFloat32(key string, fallback float32) float32 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		slog.Warn("Ignoring unparseable env value", "key", key, "value", raw)
		return fallback
	}
	return float32(value)
}

// envInt reads an int from the environment, falling back on absence or parse
// failure.
func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring unparseable env value", "key", key, "value", raw)
		return fallback
	}
	return value
}

// =============================================================================
// Core Processing Methods
// =============================================================================

// Process handles one chat query end-to-end.
//
// The processing flow is:
//  1. Resolve the patient in the registry
//  2. Check the report gate
//  3. Retrieve clinical passages for the message
//  4. Generate the answer with conversational memory folded in
//  5. Tag the exchange with a risk level
//  6. Update the rolling window and persist the exchange
//
// # Description
//
// A patient without an indexed report is blocked before any retrieval or
// generation happens. Retrieval may legitimately come back empty (the shared
// corpus is optional); generation then proceeds with an empty context block.
// Generation failures surface as GenerationError; risk tagging never fails
// because the classifier degrades to its keyword fallback.
//
// History persistence failures are logged and swallowed: once the answer is
// generated, it is returned to the patient.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - req: Validated chat query request.
//
// # Outputs
//
//   - *datatypes.ChatQueryResponse: Answer, risk tag, source documents and
//     timestamp.
//   - error: PatientNotFoundError, ReportNotUploadedError, GenerationError,
//     or an infrastructure error from retrieval.
func (s *ChatRAGService) Process(ctx context.Context, req *datatypes.ChatQueryRequest) (*datatypes.ChatQueryResponse, error) {
	ctx, span := chatRAGTracer.Start(ctx, "chat_rag.process")
	defer span.End()
	span.SetAttributes(attribute.String("patient.id", req.PatientID))

	// Step 1: the patient must be registered.
	if _, err := s.registry.GetPatient(ctx, req.PatientID); err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			span.SetStatus(codes.Error, "patient not found")
			return nil, &PatientNotFoundError{PatientID: req.PatientID}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "patient lookup failed")
		return nil, fmt.Errorf("failed to look up patient %s: %w", req.PatientID, err)
	}

	// Step 2: the report gate must be open.
	open, err := s.gate.CanProceed(ctx, req.PatientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report gate check failed")
		return nil, fmt.Errorf("report gate check failed for patient %s: %w", req.PatientID, err)
	}
	if !open {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordGateBlocked(observability.SurfaceChat)
		}
		span.SetAttributes(attribute.Bool("gate.open", false))
		return nil, &ReportNotUploadedError{PatientID: req.PatientID}
	}

	// Step 3: retrieve grounding passages. An empty result is fine; the
	// private index exists (the gate checked), the shared corpus may not.
	passages, err := s.retrieval.Retrieve(ctx, req.PatientID, req.Message, DefaultKPerSource)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, fmt.Errorf("retrieval failed for patient %s: %w", req.PatientID, err)
	}
	contextBlock := JoinPassages(passages)
	sources := PassageSources(passages)
	span.SetAttributes(
		attribute.Int("retrieval.passages", len(passages)),
		attribute.Int("retrieval.sources", len(sources)),
	)

	// Step 4: generate the answer with the recent exchanges folded in.
	window := s.recentExchanges(req.PatientID)
	promptHistory := window
	if len(promptHistory) > promptHistoryExchanges {
		promptHistory = promptHistory[len(promptHistory)-promptHistoryExchanges:]
	}
	answer, err := s.generateAnswer(ctx,
		BuildChatAnswerPrompt(promptHistory, contextBlock, req.Message))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer generation failed")
		return nil, err
	}

	// Step 5: tag the exchange. The classifier is total; on generator
	// trouble it falls back to keyword classification.
	risk, riskSource := s.classifier.AssessExchange(ctx, req.Message, answer, contextBlock, window)

	// Step 6: remember and persist the exchange.
	s.rememberExchange(req.PatientID, datatypes.Exchange{Question: req.Message, Answer: answer})
	s.persistExchange(ctx, req.PatientID, req.Message, answer, risk, sources)

	if m := observability.DefaultMetrics; m != nil {
		m.RecordChatQuery(risk.RiskLevel)
	}
	span.SetAttributes(
		attribute.String("risk.level", risk.RiskLevel),
		attribute.String("risk.source", riskSource),
	)
	slog.Info("Chat query processed",
		"patient_id", req.PatientID,
		"risk_level", risk.RiskLevel,
		"risk_source", riskSource,
		"sources", len(sources),
	)

	return datatypes.NewChatQueryResponse(answer, risk.RiskLevel, risk.RiskReason, sources), nil
}

// ResetMemory drops the in-memory conversation window for the patient.
// Called when the patient's chat history is cleared so the next prompt does
// not resurrect deleted context.
func (s *ChatRAGService) ResetMemory(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, patientID)
}

// =============================================================================
// Private Methods
// =============================================================================

// generateAnswer runs one conversational generation call.
func (s *ChatRAGService) generateAnswer(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatCallTimeout)
	defer cancel()

	temperature := s.answerTemperature
	maxTokens := s.answerMaxTokens
	start := time.Now()
	answer, err := s.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordGenerationDuration(observability.OpAnswerGeneration, time.Since(start).Seconds())
	}
	if err != nil {
		return "", &GenerationError{Operation: "answer_generation", Err: err}
	}
	return answer, nil
}

// recentExchanges returns a copy of the patient's rolling window, oldest
// first.
func (s *ChatRAGService) recentExchanges(patientID string) []datatypes.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.memory[patientID]
	out := make([]datatypes.Exchange, len(window))
	copy(out, window)
	return out
}

// rememberExchange appends to the patient's rolling window, trimming it to
// memoryWindowExchanges.
func (s *ChatRAGService) rememberExchange(patientID string, exchange datatypes.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := append(s.memory[patientID], exchange)
	if len(window) > memoryWindowExchanges {
		window = window[len(window)-memoryWindowExchanges:]
	}
	s.memory[patientID] = window
}

// persistExchange writes the exchange to the patient's chat history and
// bumps the last-active stamp. Failures are logged, not surfaced.
func (s *ChatRAGService) persistExchange(ctx context.Context, patientID, question, answer string, risk ExchangeRisk, sources []string) {
	row := &store.ChatMessage{
		PatientID:  patientID,
		Question:   question,
		Answer:     answer,
		RiskLevel:  risk.RiskLevel,
		RiskReason: risk.RiskReason,
	}
	if err := row.SetSourceDocuments(sources); err != nil {
		slog.Warn("Failed to encode source documents", "patient_id", patientID, "error", err)
	}
	if err := s.registry.SaveChatMessage(ctx, row); err != nil {
		slog.Warn("Failed to persist chat exchange", "patient_id", patientID, "error", err)
		return
	}
	if err := s.registry.TouchLastActive(ctx, patientID); err != nil {
		slog.Warn("Failed to update last-active stamp", "patient_id", patientID, "error", err)
	}
}
