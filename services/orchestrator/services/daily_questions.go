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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/llm"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/observability"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// dailyTracer is the OpenTelemetry tracer for daily check-ins.
var dailyTracer = otel.Tracer("neurowatch.orchestrator.services.daily")

// Generation settings for daily questions. Daily check-ins use a warmer
// temperature than the monitoring interview so the phrasing varies day to day.
const (
	dailyTemperature = 0.7
	dailyMaxTokens   = 300
	dailyCallTimeout = 30 * time.Second
)

// Chat-history markers for daily check-in rows. Daily rows share the chat
// history table with freeform chat and monitoring transcripts; the markers
// keep the surfaces distinguishable and filterable.
const (
	dailyQuestionMarker = "[DAILY_QUESTION] "
	dailyAnswerMarker   = "[DAILY_ANSWER] "
)

// Context windows for the generation prompt and the answer history.
const (
	// dailyHistoryFetchLimit is how many history rows feed the concern
	// summary.
	dailyHistoryFetchLimit = 20

	// dailyConcernsWindow is how many of those rows the summary keeps.
	dailyConcernsWindow = 10

	// dailyTrendDays is the risk-trend lookback window.
	dailyTrendDays = 7

	// dailyAnswersFetchLimit is how many history rows are scanned for
	// answered daily questions.
	dailyAnswersFetchLimit = 50

	// defaultDailyHistoryDays is applied when a history request carries no
	// window.
	defaultDailyHistoryDays = 7
)

// DailyQuestionService generates personalized daily check-in questions.
//
// # Description
//
// One question per call, derived from the patient's medical history, their
// recent concerns, and the risk trend over the last week. Generation is
// best-effort: any failure, from a backend outage to unusable output, serves
// the fixed fallback question instead of an error. Answers are persisted into
// the patient's chat history under the daily markers with the MONITORING
// risk tag, keeping them out of risk aggregation.
//
// # Thread Safety
//
// Safe for concurrent use; the service holds no mutable state.
type DailyQuestionService struct {
	registry  store.Store
	llmClient llm.LLMClient
}

// NewDailyQuestionService creates a daily question service.
//
// # Inputs
//
//   - registry: Patient registry and chat history store.
//   - llmClient: Generator for daily questions.
//
// # Outputs
//
//   - *DailyQuestionService: The configured service.
func NewDailyQuestionService(registry store.Store, llmClient llm.LLMClient) *DailyQuestionService {
	return &DailyQuestionService{
		registry:  registry,
		llmClient: llmClient,
	}
}

// GenerateDailyQuestion produces one personalized daily check-in question.
//
// # Description
//
// The patient must exist; the report gate is not consulted, daily check-ins
// run even before a report is indexed. The generation prompt folds in the
// medical history, the last ten interactions as a concern list, and the
// seven-day risk trend. The generator runs in JSON mode and its output must
// carry all five question fields; on any failure the fixed fallback question
// is returned with `fallback: true`, never an error.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - patientID: The patient to generate for.
//
// # Outputs
//
//   - *datatypes.DailyQuestion: The generated or fallback question, stamped
//     with the patient ID and generation time.
//   - error: PatientNotFoundError or a registry infrastructure error.
func (s *DailyQuestionService) GenerateDailyQuestion(ctx context.Context, patientID string) (*datatypes.DailyQuestion, error) {
	ctx, span := dailyTracer.Start(ctx, "daily.generate_question")
	defer span.End()
	span.SetAttributes(attribute.String("patient.id", patientID))

	patient, err := s.registry.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			span.SetStatus(codes.Error, "patient not found")
			return nil, &PatientNotFoundError{PatientID: patientID}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "patient lookup failed")
		return nil, fmt.Errorf("failed to look up patient %s: %w", patientID, err)
	}

	medicalHistory := strings.TrimSpace(patient.MedicalHistory)
	if medicalHistory == "" {
		medicalHistory = "No medical history recorded"
	}

	prompt := BuildDailyQuestionPrompt(patientID, medicalHistory,
		s.recentConcerns(ctx, patientID), s.riskTrend(ctx, patientID, dailyTrendDays))

	question, err := s.generateQuestion(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("daily.fallback", true))
		slog.Warn("Daily question generation failed, serving fallback",
			"patient_id", patientID,
			"error", err,
		)
		question = fallbackDailyQuestion()
	}
	question.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	question.PatientID = patientID

	span.SetAttributes(attribute.String("daily.category", question.Category))
	slog.Info("Daily question generated",
		"patient_id", patientID,
		"category", question.Category,
		"fallback", question.Fallback,
	)
	return question, nil
}

// SaveDailyAnswer persists a patient's answer to a daily question.
//
// # Description
//
// The answer lands in the chat history with the daily markers, the
// MONITORING risk tag, and the question metadata (when provided) serialized
// into the source-documents column. The patient's activity timestamp is
// refreshed on success.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - patientID: The patient the answer belongs to.
//   - req: Validated answer request.
//
// # Outputs
//
//   - error: PatientNotFoundError or a store infrastructure error.
func (s *DailyQuestionService) SaveDailyAnswer(ctx context.Context, patientID string, req *datatypes.DailyAnswerRequest) error {
	ctx, span := dailyTracer.Start(ctx, "daily.save_answer")
	defer span.End()
	span.SetAttributes(attribute.String("patient.id", patientID))

	if _, err := s.registry.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			span.SetStatus(codes.Error, "patient not found")
			return &PatientNotFoundError{PatientID: patientID}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "patient lookup failed")
		return fmt.Errorf("failed to look up patient %s: %w", patientID, err)
	}

	row := &store.ChatMessage{
		PatientID:  patientID,
		Question:   dailyQuestionMarker + req.Question,
		Answer:     dailyAnswerMarker + req.Answer,
		RiskLevel:  datatypes.RiskLevelMonitoring,
		RiskReason: "Daily symptom monitoring",
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			slog.Warn("Failed to serialize daily question metadata",
				"patient_id", patientID,
				"error", err,
			)
		} else if err := row.SetSourceDocuments([]string{string(raw)}); err != nil {
			slog.Warn("Failed to attach daily question metadata",
				"patient_id", patientID,
				"error", err,
			)
		}
	}

	if err := s.registry.SaveChatMessage(ctx, row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return fmt.Errorf("failed to save daily answer for patient %s: %w", patientID, err)
	}
	if err := s.registry.TouchLastActive(ctx, patientID); err != nil {
		slog.Warn("Failed to update patient activity",
			"patient_id", patientID,
			"error", err,
		)
	}

	slog.Debug("Daily answer recorded", "patient_id", patientID)
	return nil
}

// RecentDailyAnswers returns the patient's answered daily questions, newest
// first.
//
// # Description
//
// Scans the newest history rows for the daily marker, strips the markers,
// and returns up to one entry per day of the requested window. A
// non-positive window defaults to seven days.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - patientID: The patient to read.
//   - days: Maximum number of answers to return.
//
// # Outputs
//
//   - *datatypes.DailyHistoryResponse: The answered questions with
//     timestamps.
//   - error: PatientNotFoundError or a store infrastructure error.
func (s *DailyQuestionService) RecentDailyAnswers(ctx context.Context, patientID string, days int) (*datatypes.DailyHistoryResponse, error) {
	ctx, span := dailyTracer.Start(ctx, "daily.recent_answers")
	defer span.End()
	span.SetAttributes(attribute.String("patient.id", patientID))

	if days <= 0 {
		days = defaultDailyHistoryDays
	}

	if _, err := s.registry.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			span.SetStatus(codes.Error, "patient not found")
			return nil, &PatientNotFoundError{PatientID: patientID}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "patient lookup failed")
		return nil, fmt.Errorf("failed to look up patient %s: %w", patientID, err)
	}

	history, err := s.registry.History(ctx, patientID, dailyAnswersFetchLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history fetch failed")
		return nil, fmt.Errorf("failed to load history for patient %s: %w", patientID, err)
	}

	entries := make([]datatypes.DailyHistoryEntry, 0, days)
	for i := len(history) - 1; i >= 0 && len(entries) < days; i-- {
		row := history[i]
		if !strings.HasPrefix(row.Question, dailyQuestionMarker) {
			continue
		}
		entries = append(entries, datatypes.DailyHistoryEntry{
			Question:  strings.TrimPrefix(row.Question, dailyQuestionMarker),
			Answer:    strings.TrimPrefix(row.Answer, dailyAnswerMarker),
			Timestamp: row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	span.SetAttributes(attribute.Int("daily.answers", len(entries)))
	return &datatypes.DailyHistoryResponse{
		PatientID: patientID,
		Days:      days,
		Total:     len(entries),
		History:   entries,
	}, nil
}

// =============================================================================
// Internals
// =============================================================================

// recentConcerns summarizes the patient's newest interactions for the
// generation prompt, newest first.
func (s *DailyQuestionService) recentConcerns(ctx context.Context, patientID string) string {
	history, err := s.registry.History(ctx, patientID, dailyHistoryFetchLimit)
	if err != nil {
		slog.Warn("History fetch failed for daily question, proceeding without concerns",
			"patient_id", patientID,
			"error", err,
		)
		return "No previous chat history available."
	}
	if len(history) == 0 {
		return "No previous chat history available."
	}

	if len(history) > dailyConcernsWindow {
		history = history[len(history)-dailyConcernsWindow:]
	}
	lines := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("- %s (Risk: %s)", history[i].Question, history[i].RiskLevel))
	}
	return strings.Join(lines, "\n")
}

// riskTrend renders the patient's risk trend over the window. Any CRITICAL
// or HIGH instance dominates the description; otherwise a LOW/MEDIUM max
// reads as stable.
func (s *DailyQuestionService) riskTrend(ctx context.Context, patientID string, days int) string {
	summary, err := s.registry.RiskSummary(ctx, patientID, days)
	if err != nil {
		slog.Warn("Risk summary failed for daily question, proceeding without trend",
			"patient_id", patientID,
			"error", err,
		)
		return "No significant risk trends"
	}

	if n := summary.Distribution[datatypes.RiskLevelCritical]; n > 0 {
		return fmt.Sprintf("CRITICAL risk detected in last %d days (%d instances)", days, n)
	}
	if n := summary.Distribution[datatypes.RiskLevelHigh]; n > 0 {
		return fmt.Sprintf("HIGH risk detected in last %d days (%d instances)", days, n)
	}
	switch summary.MaxLevel {
	case datatypes.RiskLevelMedium, datatypes.RiskLevelLow:
		return fmt.Sprintf("Stable condition (max risk: %s)", summary.MaxLevel)
	default:
		return "No significant risk trends"
	}
}

// generateQuestion runs one JSON-mode generation call and validates the
// result. Failures are returned so the caller can serve the fallback.
func (s *DailyQuestionService) generateQuestion(ctx context.Context, prompt string) (*datatypes.DailyQuestion, error) {
	ctx, cancel := context.WithTimeout(ctx, dailyCallTimeout)
	defer cancel()

	temperature := float32(dailyTemperature)
	maxTokens := dailyMaxTokens
	start := time.Now()
	raw, err := s.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		JSONMode:    true,
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordGenerationDuration(observability.OpDailyQuestion, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &GenerationError{Operation: "daily_question", Err: err}
	}

	var question datatypes.DailyQuestion
	if err := json.Unmarshal([]byte(StripMarkdownFences(raw)), &question); err != nil {
		return nil, &MalformedOutputError{Operation: "daily_question", Raw: raw, Err: err}
	}
	if err := validateDailyQuestion(&question); err != nil {
		return nil, &MalformedOutputError{Operation: "daily_question", Raw: raw, Err: err}
	}
	return &question, nil
}

// validateDailyQuestion checks the five required generator fields.
func validateDailyQuestion(q *datatypes.DailyQuestion) error {
	switch {
	case strings.TrimSpace(q.Question) == "":
		return fmt.Errorf("missing required field: question")
	case strings.TrimSpace(q.QuestionType) == "":
		return fmt.Errorf("missing required field: question_type")
	case len(q.Options) == 0:
		return fmt.Errorf("missing required field: options")
	case strings.TrimSpace(q.Context) == "":
		return fmt.Errorf("missing required field: context")
	case strings.TrimSpace(q.Category) == "":
		return fmt.Errorf("missing required field: category")
	}
	return nil
}

// fallbackDailyQuestion is the generic check-in served when generation fails.
func fallbackDailyQuestion() *datatypes.DailyQuestion {
	return &datatypes.DailyQuestion{
		Question:     "How are you feeling today compared to yesterday?",
		QuestionType: datatypes.DailyTypeNumericScale,
		Options:      []string{"Much Worse", "Worse", "Same", "Better", "Much Better"},
		Context:      "General daily wellness check",
		Category:     datatypes.DailyCategoryGeneral,
		Fallback:     true,
	}
}
