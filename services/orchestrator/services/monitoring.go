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
	"strconv"
	"strings"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/llm"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/observability"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// monitoringTracer is the OpenTelemetry tracer for monitoring sessions.
var monitoringTracer = otel.Tracer("neurowatch.orchestrator.services.monitoring")

// Generation settings for monitoring questions. Question generation runs in
// JSON mode with the same conservative settings as risk assessment.
const (
	questionTemperature = 0.3
	questionMaxTokens   = 300
	questionCallTimeout = 30 * time.Second
)

// nextQuestionCompleteStatus is the wire status for the terminal marker
// returned once the session question budget is exhausted.
const nextQuestionCompleteStatus = "complete"

// Chat-history markers for persisted monitoring session rows. Session rows
// share the patient's chat history table with freeform chat and daily
// check-ins; the marker keeps the surfaces distinguishable.
const (
	monitoringQuestionMarker   = "[MONITORING] "
	monitoringAssessmentMarker = "[MONITORING] Session assessment"
)

// generatedQuestion is the model's JSON output for one monitoring question.
type generatedQuestion struct {
	Question    string `json:"question"`
	AnswerType  string `json:"answer_type"`
	Explanation string `json:"explanation"`
}

// MonitoringSessionManager drives the structured monitoring interview.
//
// # Description
//
// The manager owns the session lifecycle: start (registry + report gate
// checks), question generation against the budget and no-repeat rule, answer
// validation, and the final risk assessment that completes the session and
// writes the transcript to the patient's chat history.
//
// Question generation has no fallback: if the generator fails or returns
// unusable output the caller sees a GenerationError. The final assessment
// never fails; the classifier degrades to its keyword fallback instead.
//
// # Thread Safety
//
// Safe for concurrent use across sessions. Operations on the same session
// must be serialized by the caller; the interview is turn-based and the
// session repository does not merge concurrent writes.
type MonitoringSessionManager struct {
	registry    store.Store
	gate        ReportGate
	retrieval   RetrievalGateway
	sessions    SessionRepository
	llmClient   llm.LLMClient
	classifier  *RiskClassifier
	defaultMaxQ int
}

// NewMonitoringSessionManager creates a session manager.
//
// # Inputs
//
//   - registry: Patient registry and chat history store.
//   - gate: Report gate consulted before any session starts.
//   - retrieval: Gateway for medical guidance passages.
//   - sessions: Session repository; state lives here between turns.
//   - llmClient: Generator for monitoring questions.
//   - classifier: Risk classifier for the final assessment.
//   - defaultMaxQuestions: Budget applied when a start request does not ask
//     for one. Non-positive means the upper bound.
//
// # Outputs
//
//   - *MonitoringSessionManager: The configured manager.
func NewMonitoringSessionManager(
	registry store.Store,
	gate ReportGate,
	retrieval RetrievalGateway,
	sessions SessionRepository,
	llmClient llm.LLMClient,
	classifier *RiskClassifier,
	defaultMaxQuestions int,
) *MonitoringSessionManager {
	if defaultMaxQuestions <= 0 {
		defaultMaxQuestions = MaxQuestionsBound
	}
	return &MonitoringSessionManager{
		registry:    registry,
		gate:        gate,
		retrieval:   retrieval,
		sessions:    sessions,
		llmClient:   llmClient,
		classifier:  classifier,
		defaultMaxQ: defaultMaxQuestions,
	}
}

// StartSession creates a new ACTIVE monitoring session for the patient.
//
// # Description
//
// The patient must exist in the registry and must have an indexed medical
// report; a closed gate returns ReportNotUploadedError and no session is
// created. The requested budget is clamped into the hard [3, 6] bounds, with
// the manager default applied when the request carries none.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - req: Validated start request.
//
// # Outputs
//
//   - *datatypes.StartSessionResponse: Session ID and resolved budget.
//   - error: PatientNotFoundError, ReportNotUploadedError, or an
//     infrastructure error from the gate or repository.
func (m *MonitoringSessionManager) StartSession(ctx context.Context, req *datatypes.StartSessionRequest) (*datatypes.StartSessionResponse, error) {
	ctx, span := monitoringTracer.Start(ctx, "monitoring.start_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("patient.id", req.PatientID),
		attribute.Int("session.requested_max_questions", req.MaxQuestions),
	)

	if _, err := m.registry.GetPatient(ctx, req.PatientID); err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			span.SetStatus(codes.Error, "patient not found")
			return nil, &PatientNotFoundError{PatientID: req.PatientID}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "patient lookup failed")
		return nil, fmt.Errorf("failed to look up patient %s: %w", req.PatientID, err)
	}

	open, err := m.gate.CanProceed(ctx, req.PatientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report gate check failed")
		return nil, fmt.Errorf("report gate check failed for patient %s: %w", req.PatientID, err)
	}
	if !open {
		if mm := observability.DefaultMetrics; mm != nil {
			mm.RecordGateBlocked(observability.SurfaceMonitoring)
		}
		span.SetAttributes(attribute.Bool("gate.open", false))
		return nil, &ReportNotUploadedError{PatientID: req.PatientID}
	}

	maxQuestions := ClampQuestionBudget(req.MaxQuestions, m.defaultMaxQ)
	session := datatypes.NewMonitoringSession(req.PatientID, maxQuestions)
	if err := m.sessions.Put(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store failed")
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if mm := observability.DefaultMetrics; mm != nil {
		mm.RecordSessionStarted()
	}
	span.SetAttributes(
		attribute.String("session.id", session.SessionID),
		attribute.Int("session.max_questions", maxQuestions),
	)
	slog.Info("Monitoring session started",
		"session_id", session.SessionID,
		"patient_id", req.PatientID,
		"max_questions", maxQuestions,
	)

	return &datatypes.StartSessionResponse{
		SessionID:    session.SessionID,
		PatientID:    session.PatientID,
		MaxQuestions: session.MaxQuestions,
	}, nil
}

// NextQuestion generates the next monitoring question for the session.
//
// # Description
//
// Once the budget is exhausted, or the session is already complete, the
// terminal marker (status "complete", null question) is returned and the
// caller is expected to request the assessment. Otherwise the manager
// retrieves medical guidance, builds the generation prompt from patient
// history plus every previous answer, and calls the generator in JSON mode.
//
// A generated question that repeats one already asked triggers exactly one
// regeneration with an explicit do-not-repeat reinforcement; a second
// duplicate fails the call. Generation failures surface as GenerationError
// with no fallback question.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - sessionID: The session to advance.
//
// # Outputs
//
//   - *datatypes.NextQuestionResponse: The question with its position, or
//     the terminal marker.
//   - error: SessionNotFoundError, GenerationError, or an infrastructure
//     error from the repository.
func (m *MonitoringSessionManager) NextQuestion(ctx context.Context, sessionID string) (*datatypes.NextQuestionResponse, error) {
	ctx, span := monitoringTracer.Start(ctx, "monitoring.next_question")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "session lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("patient.id", session.PatientID))

	tracker := NewQuestionTracker(session)
	if session.Status == datatypes.SessionStatusComplete || !tracker.CanAskMore(session.MaxQuestions) {
		span.SetAttributes(attribute.Bool("session.budget_exhausted", true))
		return &datatypes.NextQuestionResponse{
			SessionID: session.SessionID,
			Status:    nextQuestionCompleteStatus,
			Question:  nil,
		}, nil
	}

	patient, err := m.registry.GetPatient(ctx, session.PatientID)
	if err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			span.SetStatus(codes.Error, "patient not found")
			return nil, &PatientNotFoundError{PatientID: session.PatientID}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "patient lookup failed")
		return nil, fmt.Errorf("failed to look up patient %s: %w", session.PatientID, err)
	}

	guidance := m.retrieveGuidance(ctx, span, session.PatientID,
		guidanceQuery(patient.MedicalHistory, session.Answered, recentGuidanceAnswers))

	questionNumber := tracker.Asked() + 1
	prompt := BuildQuestionGenerationPrompt(
		patient.MedicalHistory, session.Answered, questionNumber, session.MaxQuestions, guidance)

	question, err := m.generateQuestion(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "question generation failed")
		return nil, err
	}

	if tracker.HasAsked(question.Question) {
		if mm := observability.DefaultMetrics; mm != nil {
			mm.RecordDuplicateRegeneration()
		}
		span.SetAttributes(attribute.Bool("question.regenerated", true))
		slog.Warn("Generator repeated a question, regenerating once",
			"session_id", session.SessionID,
			"question", question.Question,
		)

		question, err = m.generateQuestion(ctx, buildNoRepeatPrompt(prompt, session.AskedQuestions))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "question regeneration failed")
			return nil, err
		}
		if tracker.HasAsked(question.Question) {
			dup := &DuplicateQuestionError{Question: question.Question}
			span.RecordError(dup)
			span.SetStatus(codes.Error, "duplicate question after regeneration")
			return nil, &GenerationError{Operation: "question_generation", Err: dup}
		}
	}

	if err := tracker.RecordQuestion(question.Question); err != nil {
		return nil, fmt.Errorf("failed to record question: %w", err)
	}
	session.UpdatedAt = time.Now().UnixMilli()
	if err := m.sessions.Put(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store failed")
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if mm := observability.DefaultMetrics; mm != nil {
		mm.RecordQuestionGenerated()
	}
	span.SetAttributes(
		attribute.Int("question.number", questionNumber),
		attribute.String("question.answer_type", question.AnswerType),
	)
	slog.Debug("Monitoring question generated",
		"session_id", session.SessionID,
		"question_number", questionNumber,
		"answer_type", question.AnswerType,
	)

	return &datatypes.NextQuestionResponse{
		SessionID:      session.SessionID,
		Question:       &question.Question,
		AnswerType:     question.AnswerType,
		QuestionNumber: questionNumber,
		TotalExpected:  session.MaxQuestions,
	}, nil
}

// SubmitAnswer validates and records one answer against the session.
//
// # Description
//
// The answer is validated against its declared type before anything is
// stored: YES_NO accepts y/yes/n/no case-insensitively and normalizes to
// YES or NO, SCALE_0_10 must parse as an integer within [0, 10], SHORT_TEXT
// must be non-empty. A normalized NO additionally bumps the tracker's
// negative counter for the question, steering later generation away from
// that line of questioning.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - sessionID: The session the answer belongs to.
//   - req: Validated submit request carrying question, answer and type.
//
// # Outputs
//
//   - *datatypes.SubmitAnswerResponse: Acknowledgment with the recorded
//     question text.
//   - error: SessionNotFoundError, InvalidAnswerError, or an infrastructure
//     error from the repository.
func (m *MonitoringSessionManager) SubmitAnswer(ctx context.Context, sessionID string, req *datatypes.SubmitAnswerRequest) (*datatypes.SubmitAnswerResponse, error) {
	ctx, span := monitoringTracer.Start(ctx, "monitoring.submit_answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("answer.type", req.AnswerType),
	)

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "session lookup failed")
		return nil, err
	}
	if session.Status == datatypes.SessionStatusComplete {
		span.SetStatus(codes.Error, "session already complete")
		return nil, &InvalidAnswerError{
			AnswerType: req.AnswerType,
			Reason:     "session is already complete",
		}
	}

	answerType, ok := datatypes.NormalizeAnswerType(req.AnswerType)
	if !ok {
		span.SetStatus(codes.Error, "unknown answer type")
		return nil, &InvalidAnswerError{
			AnswerType: req.AnswerType,
			Reason:     "answer type must be YES_NO, SCALE_0_10 or SHORT_TEXT",
		}
	}
	normalized, err := ValidateAnswer(answerType, req.Answer)
	if err != nil {
		span.SetStatus(codes.Error, "answer validation failed")
		return nil, err
	}

	tracker := NewQuestionTracker(session)
	session.Answered = append(session.Answered, datatypes.QuestionRecord{
		Question:   req.Question,
		Answer:     normalized,
		AnswerType: answerType,
		AnsweredAt: time.Now().UnixMilli(),
	})
	if answerType == datatypes.AnswerTypeYesNo && normalized == "NO" {
		tracker.MarkNegative(req.Question)
	}
	session.UpdatedAt = time.Now().UnixMilli()
	if err := m.sessions.Put(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store failed")
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if mm := observability.DefaultMetrics; mm != nil {
		mm.RecordAnswerSubmitted(answerType)
	}
	span.SetAttributes(attribute.String("answer.normalized", normalized))
	slog.Debug("Monitoring answer recorded",
		"session_id", session.SessionID,
		"answer_type", answerType,
	)

	return &datatypes.SubmitAnswerResponse{
		Success:          true,
		QuestionRecorded: req.Question,
	}, nil
}

// GetAssessment produces the final risk assessment and completes the session.
//
// # Description
//
// At least the minimum number of questions must have been asked. The
// classifier always produces a LOW, MEDIUM or HIGH verdict, degrading to
// the keyword fallback on generator trouble, so a session that reaches this
// point always completes. Completion is idempotent: calling again on a
// COMPLETE session returns the stored assessment without re-assessing.
//
// On first completion the full transcript is written to the patient's chat
// history: one row per answered question tagged MONITORING, plus a summary
// row carrying the assessed risk level so history and risk-summary queries
// see the session outcome. History write failures are logged, not surfaced;
// the assessment itself is already committed to the session.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - sessionID: The session to assess.
//
// # Outputs
//
//   - *datatypes.RiskAssessment: The final assessment, never nil on success.
//   - error: SessionNotFoundError, AssessmentNotReadyError, or an
//     infrastructure error from the repository.
func (m *MonitoringSessionManager) GetAssessment(ctx context.Context, sessionID string) (*datatypes.RiskAssessment, error) {
	ctx, span := monitoringTracer.Start(ctx, "monitoring.get_assessment")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "session lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("patient.id", session.PatientID))

	if session.Status == datatypes.SessionStatusComplete && session.Assessment != nil {
		span.SetAttributes(attribute.Bool("assessment.cached", true))
		return session.Assessment, nil
	}

	tracker := NewQuestionTracker(session)
	if !tracker.MeetsMinimum(MinQuestionsBound) {
		span.SetStatus(codes.Error, "below minimum question count")
		return nil, &AssessmentNotReadyError{
			Asked:   tracker.Asked(),
			Minimum: MinQuestionsBound,
		}
	}

	patientHistory := ""
	if patient, err := m.registry.GetPatient(ctx, session.PatientID); err == nil {
		patientHistory = patient.MedicalHistory
	} else {
		span.RecordError(err)
		slog.Warn("Patient lookup failed during assessment, proceeding without history",
			"session_id", session.SessionID,
			"patient_id", session.PatientID,
			"error", err,
		)
	}

	guidance := m.retrieveGuidance(ctx, span, session.PatientID,
		guidanceQuery(patientHistory, session.Answered, 0))

	assessment, source := m.classifier.AssessSession(ctx, patientHistory, session.Answered, guidance)
	assessment.TotalQuestionsAsked = tracker.Asked()

	session.Assessment = assessment
	session.Status = datatypes.SessionStatusComplete
	session.UpdatedAt = time.Now().UnixMilli()
	if err := m.sessions.Put(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store failed")
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.persistTranscript(ctx, session, assessment)

	if mm := observability.DefaultMetrics; mm != nil {
		mm.RecordSessionCompleted(assessment.RiskLevel)
	}
	span.SetAttributes(
		attribute.String("assessment.risk_level", assessment.RiskLevel),
		attribute.String("assessment.source", source),
		attribute.Int("assessment.questions_asked", assessment.TotalQuestionsAsked),
	)
	slog.Info("Monitoring session completed",
		"session_id", session.SessionID,
		"patient_id", session.PatientID,
		"risk_level", assessment.RiskLevel,
		"source", source,
		"questions_asked", assessment.TotalQuestionsAsked,
	)

	return assessment, nil
}

// GetSession returns a read-only snapshot of the session.
//
// # Inputs
//
//   - ctx: Context for cancellation, timeouts, and tracing.
//   - sessionID: The session to read.
//
// # Outputs
//
//   - *datatypes.SessionSnapshotResponse: Status, phase, budget position,
//     recorded answers, and the assessment when present.
//   - error: SessionNotFoundError or a repository error.
func (m *MonitoringSessionManager) GetSession(ctx context.Context, sessionID string) (*datatypes.SessionSnapshotResponse, error) {
	ctx, span := monitoringTracer.Start(ctx, "monitoring.get_session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "session lookup failed")
		return nil, err
	}

	tracker := NewQuestionTracker(session)
	return &datatypes.SessionSnapshotResponse{
		SessionID:      session.SessionID,
		PatientID:      session.PatientID,
		Status:         session.Status,
		Phase:          tracker.Phase(MinQuestionsBound, session.MaxQuestions),
		MaxQuestions:   session.MaxQuestions,
		QuestionsAsked: tracker.Asked(),
		Answered:       session.Answered,
		Assessment:     session.Assessment,
	}, nil
}

// =============================================================================
// Answer Validation
// =============================================================================

// ValidateAnswer validates an answer against its declared type and returns
// the normalized form.
//
// # Description
//
// YES_NO accepts y, yes, n and no in any casing and normalizes to YES or
// NO. SCALE_0_10 must parse as an integer within [0, 10] and is returned in
// canonical integer form. SHORT_TEXT must contain at least one
// non-whitespace character and is returned trimmed.
//
// # Inputs
//
//   - answerType: One of the normalized answer-type constants.
//   - answer: The raw submitted answer.
//
// # Outputs
//
//   - string: The normalized answer.
//   - error: An InvalidAnswerError describing the violation.
func ValidateAnswer(answerType, answer string) (string, error) {
	trimmed := strings.TrimSpace(answer)
	switch answerType {
	case datatypes.AnswerTypeYesNo:
		switch strings.ToLower(trimmed) {
		case "y", "yes":
			return "YES", nil
		case "n", "no":
			return "NO", nil
		default:
			return "", &InvalidAnswerError{
				AnswerType: answerType,
				Reason:     fmt.Sprintf("answer must be yes or no, got %q", answer),
			}
		}
	case datatypes.AnswerTypeScale0To10:
		value, err := strconv.Atoi(trimmed)
		if err != nil {
			return "", &InvalidAnswerError{
				AnswerType: answerType,
				Reason:     fmt.Sprintf("answer must be an integer, got %q", answer),
			}
		}
		if value < 0 || value > 10 {
			return "", &InvalidAnswerError{
				AnswerType: answerType,
				Reason:     fmt.Sprintf("answer must be between 0 and 10, got %d", value),
			}
		}
		return strconv.Itoa(value), nil
	case datatypes.AnswerTypeShortText:
		if trimmed == "" {
			return "", &InvalidAnswerError{
				AnswerType: answerType,
				Reason:     "answer must not be empty",
			}
		}
		return trimmed, nil
	default:
		return "", &InvalidAnswerError{
			AnswerType: answerType,
			Reason:     "answer type must be YES_NO, SCALE_0_10 or SHORT_TEXT",
		}
	}
}

// =============================================================================
// Internals
// =============================================================================

// recentGuidanceAnswers bounds how many trailing answers feed the guidance
// retrieval query during question generation.
const recentGuidanceAnswers = 2

// guidanceQuery derives the retrieval query from the patient's medical
// history plus the trailing lastN question/answer pairs. lastN of zero or
// less folds in the full transcript.
func guidanceQuery(medicalHistory string, answered []datatypes.QuestionRecord, lastN int) string {
	recent := answered
	if lastN > 0 && len(recent) > lastN {
		recent = recent[len(recent)-lastN:]
	}

	parts := make([]string, 0, 1+2*len(recent))
	if history := strings.TrimSpace(medicalHistory); history != "" {
		parts = append(parts, history)
	}
	for _, record := range recent {
		parts = append(parts, record.Question, record.Answer)
	}
	if len(parts) == 0 {
		return "post-discharge neurological symptom monitoring"
	}
	return strings.Join(parts, " ")
}

// retrieveGuidance fetches and joins guidance passages for a query. Guidance
// enriches generation but is not required for it, so retrieval failures
// degrade to an empty context instead of failing the session turn.
func (m *MonitoringSessionManager) retrieveGuidance(ctx context.Context, span trace.Span, patientID, query string) string {
	passages, err := m.retrieval.Retrieve(ctx, patientID, query, DefaultKPerSource)
	if err != nil {
		span.RecordError(err)
		slog.Warn("Guidance retrieval failed, proceeding without context",
			"patient_id", patientID,
			"error", err,
		)
		return ""
	}
	return JoinPassages(passages)
}

// generateQuestion runs one JSON-mode generation call and parses the result.
func (m *MonitoringSessionManager) generateQuestion(ctx context.Context, prompt string) (*generatedQuestion, error) {
	ctx, cancel := context.WithTimeout(ctx, questionCallTimeout)
	defer cancel()

	temperature := float32(questionTemperature)
	maxTokens := questionMaxTokens
	start := time.Now()
	raw, err := m.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
		SystemPrompt: ClinicalMonitoringSystemPrompt,
		JSONMode:     true,
	})
	if mm := observability.DefaultMetrics; mm != nil {
		mm.RecordGenerationDuration(observability.OpQuestionGeneration, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &GenerationError{Operation: "question_generation", Err: err}
	}

	var question generatedQuestion
	if err := json.Unmarshal([]byte(StripMarkdownFences(raw)), &question); err != nil {
		return nil, &GenerationError{
			Operation: "question_generation",
			Err:       &MalformedOutputError{Operation: "question_generation", Raw: raw, Err: err},
		}
	}
	question.Question = strings.TrimSpace(question.Question)
	if question.Question == "" {
		return nil, &GenerationError{
			Operation: "question_generation",
			Err: &MalformedOutputError{Operation: "question_generation", Raw: raw,
				Err: fmt.Errorf("missing question field")},
		}
	}
	answerType, ok := datatypes.NormalizeAnswerType(question.AnswerType)
	if !ok {
		return nil, &GenerationError{
			Operation: "question_generation",
			Err: &MalformedOutputError{Operation: "question_generation", Raw: raw,
				Err: fmt.Errorf("invalid answer_type %q", question.AnswerType)},
		}
	}
	question.AnswerType = answerType
	return &question, nil
}

// buildNoRepeatPrompt reinforces the generation prompt after the model
// repeated an already-asked question.
func buildNoRepeatPrompt(basePrompt string, asked []string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nIMPORTANT: The following questions were already asked in this session:\n")
	for _, q := range asked {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	b.WriteString("Do NOT repeat any of them. Ask about a different symptom category.")
	return b.String()
}

// persistTranscript writes the completed session to the patient's chat
// history: one MONITORING-tagged row per answered question, then a summary
// row carrying the assessed risk level. Failures are logged and swallowed;
// the assessment is already committed to the session at this point.
func (m *MonitoringSessionManager) persistTranscript(ctx context.Context, session *datatypes.MonitoringSession, assessment *datatypes.RiskAssessment) {
	for _, record := range session.Answered {
		row := &store.ChatMessage{
			PatientID:  session.PatientID,
			Question:   monitoringQuestionMarker + record.Question,
			Answer:     record.Answer,
			RiskLevel:  datatypes.RiskLevelMonitoring,
			RiskReason: "Structured monitoring session response",
		}
		if err := m.registry.SaveChatMessage(ctx, row); err != nil {
			slog.Warn("Failed to persist session response to history",
				"session_id", session.SessionID,
				"patient_id", session.PatientID,
				"error", err,
			)
			return
		}
	}

	summary := &store.ChatMessage{
		PatientID:  session.PatientID,
		Question:   monitoringAssessmentMarker,
		Answer:     fmt.Sprintf("Risk Level: %s. Action: %s", assessment.RiskLevel, assessment.Action),
		RiskLevel:  assessment.RiskLevel,
		RiskReason: strings.Join(assessment.Reason, " "),
	}
	if err := m.registry.SaveChatMessage(ctx, summary); err != nil {
		slog.Warn("Failed to persist session assessment to history",
			"session_id", session.SessionID,
			"patient_id", session.PatientID,
			"error", err,
		)
	}
}
