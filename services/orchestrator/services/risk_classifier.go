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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/llm"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/observability"
	"github.com/NeurowatchAI/Neurowatch/services/triage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// riskTracer is the OpenTelemetry tracer for risk classification.
var riskTracer = otel.Tracer("neurowatch.orchestrator.services.risk")

// Fixed generation settings for risk calls. Low temperature keeps repeated
// assessments of the same transcript stable.
const (
	riskTemperature = 0.3
	riskMaxTokens   = 300
	riskCallTimeout = 30 * time.Second
)

// Provenance markers for classifier results.
const (
	AssessmentSourceGenerator = "generator"
	AssessmentSourceFallback  = "fallback"
)

// monitoringActionTemplates are the canned per-level actions substituted when
// the generator returns a valid level with an empty action.
var monitoringActionTemplates = map[string]string{
	datatypes.RiskLevelHigh:   "Visit your doctor or nearest hospital immediately. Contact a family member or caregiver.",
	datatypes.RiskLevelMedium: "Continue taking your prescribed medicines and monitor symptoms closely. Inform your doctor if symptoms worsen.",
	datatypes.RiskLevelLow:    "You are doing well. Continue your normal routine and prescribed medications.",
}

// maxAssessmentReasons caps the reason list kept from generator output.
const maxAssessmentReasons = 3

// riskHistoryWindow is how many recent exchanges feed the chat risk prompt.
const riskHistoryWindow = 3

// =============================================================================
// RiskClassifier
// =============================================================================

// RiskClassifier produces validated risk levels for both assessment paths.
//
// # Description
//
// The classifier tries the generator first and falls back to the
// deterministic keyword triage engine whenever the generator fails, times
// out, or returns output that does not validate. The two paths use different
// vocabularies: session assessments are bounded at HIGH, per-exchange chat
// tags may additionally reach CRITICAL. No call path ever yields a level
// outside its vocabulary, and no call path ever returns an error; the triage
// fallback is total.
//
// # Thread Safety
//
// Safe for concurrent use; the classifier holds no mutable state.
type RiskClassifier struct {
	llmClient llm.LLMClient
	triage    *triage.Engine
}

// NewRiskClassifier creates a classifier over the given generator and triage
// engine.
func NewRiskClassifier(llmClient llm.LLMClient, triageEngine *triage.Engine) *RiskClassifier {
	return &RiskClassifier{
		llmClient: llmClient,
		triage:    triageEngine,
	}
}

// sessionAssessmentOutput is the expected generator JSON for a session
// assessment. Reason is raw because models return both bare strings and
// arrays for it.
type sessionAssessmentOutput struct {
	RiskLevel string          `json:"risk_level"`
	Reason    json.RawMessage `json:"reason"`
	Action    string          `json:"action"`
}

// AssessSession produces the final risk assessment for a monitoring session.
//
// # Description
//
// Builds the session assessment prompt from the patient history, the full
// answered transcript, and the retrieved guidance, then calls the generator
// in JSON mode (temperature 0.3, 300 token cap, 30s timeout). Output is
// accepted only if it parses and its risk_level normalizes to LOW, MEDIUM or
// HIGH; anything else, including a CRITICAL verdict, routes to the keyword
// fallback. Accepted output is repaired where allowed: a bare-string reason
// is wrapped into a list, more than three reasons are truncated, and an
// empty action is replaced by the level's template.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing. The generator call is
//     additionally bounded by the fixed risk timeout.
//   - patientHistory: The patient's medical background text.
//   - answered: The session's validated question/answer records.
//   - guidance: Retrieved medical guidance, already joined.
//
// # Outputs
//
//   - *datatypes.RiskAssessment: Always non-nil. RiskLevel is guaranteed to
//     be LOW, MEDIUM or HIGH.
//   - string: AssessmentSourceGenerator or AssessmentSourceFallback.
func (c *RiskClassifier) AssessSession(ctx context.Context, patientHistory string, answered []datatypes.QuestionRecord, guidance string) (*datatypes.RiskAssessment, string) {
	ctx, span := riskTracer.Start(ctx, "risk.assess_session")
	defer span.End()
	span.SetAttributes(attribute.Int("session.answered", len(answered)))

	prompt := BuildSessionAssessmentPrompt(patientHistory, answered, guidance)
	raw, err := c.generate(ctx, ClinicalMonitoringSystemPrompt, prompt)
	if err != nil {
		slog.Warn("Session risk generation failed, using keyword fallback", "error", err)
		return c.sessionFallback(answered, guidance, span, &GenerationError{Operation: "risk_assessment", Err: err})
	}

	var out sessionAssessmentOutput
	cleaned := StripMarkdownFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return c.sessionFallback(answered, guidance, span,
			&MalformedOutputError{Operation: "risk_assessment", Raw: raw, Err: err})
	}

	level, ok := datatypes.NormalizeMonitoringRiskLevel(out.RiskLevel)
	if !ok {
		// Includes generator CRITICAL: the monitoring vocabulary caps at
		// HIGH, so anything outside it is rejected wholesale.
		return c.sessionFallback(answered, guidance, span,
			&MalformedOutputError{Operation: "risk_assessment", Raw: raw,
				Err: fmt.Errorf("risk_level %q outside monitoring vocabulary", out.RiskLevel)})
	}

	reasons := parseReasonList(out.Reason)
	if len(reasons) == 0 {
		return c.sessionFallback(answered, guidance, span,
			&MalformedOutputError{Operation: "risk_assessment", Raw: raw,
				Err: fmt.Errorf("empty reason")})
	}

	action := strings.TrimSpace(out.Action)
	if action == "" {
		action = monitoringActionTemplates[level]
	}

	span.SetAttributes(
		attribute.String("risk.level", level),
		attribute.String("risk.source", AssessmentSourceGenerator),
	)
	return &datatypes.RiskAssessment{
		RiskLevel:           level,
		Reason:              reasons,
		Action:              action,
		TotalQuestionsAsked: len(answered),
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
	}, AssessmentSourceGenerator
}

// sessionFallback classifies the session transcript with the monitoring
// keyword rules. Deterministic and total.
func (c *RiskClassifier) sessionFallback(answered []datatypes.QuestionRecord, guidance string, span trace.Span, cause error) (*datatypes.RiskAssessment, string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRiskFallback(triage.ModeMonitoring)
	}
	slog.Info("Monitoring risk fallback engaged", "cause", cause)

	var b strings.Builder
	for _, record := range answered {
		b.WriteString(record.Question)
		b.WriteString(" ")
		b.WriteString(record.Answer)
		b.WriteString(" ")
	}
	b.WriteString(guidance)

	match, err := c.triage.Classify(triage.ModeMonitoring, b.String())
	if err != nil {
		// Unreachable with the embedded rule file; keep the guarantee anyway.
		match = triage.Match{
			Level:  triage.LevelLow,
			Reason: "No concerning symptoms reported.",
			Action: monitoringActionTemplates[datatypes.RiskLevelLow],
		}
	}

	span.SetAttributes(
		attribute.String("risk.level", string(match.Level)),
		attribute.String("risk.source", AssessmentSourceFallback),
	)
	return &datatypes.RiskAssessment{
		RiskLevel:           string(match.Level),
		Reason:              []string{match.Reason},
		Action:              match.Action,
		TotalQuestionsAsked: len(answered),
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
	}, AssessmentSourceFallback
}

// =============================================================================
// Per-Exchange (Chat) Risk
// =============================================================================

// ExchangeRisk is the risk tag attached to one chat exchange.
type ExchangeRisk struct {
	RiskLevel  string `json:"risk_level"`
	RiskReason string `json:"risk_reason"`
}

// exchangeRiskOutput is the expected generator JSON for an exchange tag.
type exchangeRiskOutput struct {
	RiskLevel  string `json:"risk_level"`
	RiskReason string `json:"risk_reason"`
}

// AssessExchange tags one chat exchange with a risk level.
//
// # Description
//
// The chat vocabulary admits CRITICAL on top of the session levels. The
// prompt folds in the question, the generated answer, up to 800 characters
// of retrieved context, and the last three exchanges with answers truncated
// to 200 characters for symptom-progression analysis. Failures of any kind
// route to the chat keyword fallback, which is total.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - question: The patient's message.
//   - answer: The generated answer being tagged.
//   - context: Retrieved passages, already joined.
//   - history: The patient's recent exchanges, oldest first. Only the last
//     riskHistoryWindow entries are used.
//
// # Outputs
//
//   - ExchangeRisk: RiskLevel is guaranteed to be LOW, MEDIUM, HIGH or
//     CRITICAL.
//   - string: AssessmentSourceGenerator or AssessmentSourceFallback.
func (c *RiskClassifier) AssessExchange(ctx context.Context, question, answer, contextText string, history []datatypes.Exchange) (ExchangeRisk, string) {
	ctx, span := riskTracer.Start(ctx, "risk.assess_exchange")
	defer span.End()

	recent := history
	if len(recent) > riskHistoryWindow {
		recent = recent[len(recent)-riskHistoryWindow:]
	}
	prompt := BuildExchangeRiskPrompt(question, answer, contextText, FormatRiskHistory(recent))

	raw, err := c.generate(ctx, ChatRiskSystemPrompt, prompt)
	if err != nil {
		slog.Warn("Exchange risk generation failed, using keyword fallback", "error", err)
		return c.exchangeFallback(question, answer, contextText, span)
	}

	var out exchangeRiskOutput
	cleaned := StripMarkdownFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		slog.Warn("Exchange risk output unparseable, using keyword fallback", "error", err)
		return c.exchangeFallback(question, answer, contextText, span)
	}

	level, ok := datatypes.NormalizeChatRiskLevel(out.RiskLevel)
	if !ok {
		slog.Warn("Exchange risk level outside vocabulary, using keyword fallback",
			"risk_level", out.RiskLevel)
		return c.exchangeFallback(question, answer, contextText, span)
	}

	reason := strings.TrimSpace(out.RiskReason)
	if reason == "" {
		reason = "Unable to assess risk"
	}

	span.SetAttributes(
		attribute.String("risk.level", level),
		attribute.String("risk.source", AssessmentSourceGenerator),
	)
	return ExchangeRisk{RiskLevel: level, RiskReason: reason}, AssessmentSourceGenerator
}

// exchangeFallback classifies the combined exchange text with the chat
// keyword rules.
func (c *RiskClassifier) exchangeFallback(question, answer, contextText string, span trace.Span) (ExchangeRisk, string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRiskFallback(triage.ModeChat)
	}

	combined := question + " " + answer + " " + contextText
	match, err := c.triage.Classify(triage.ModeChat, combined)
	if err != nil {
		match = triage.Match{
			Level:  triage.LevelLow,
			Reason: "General medical information query with no immediate concerns.",
		}
	}

	span.SetAttributes(
		attribute.String("risk.level", string(match.Level)),
		attribute.String("risk.source", AssessmentSourceFallback),
	)
	return ExchangeRisk{
		RiskLevel:  string(match.Level),
		RiskReason: match.Reason,
	}, AssessmentSourceFallback
}

// =============================================================================
// Internals
// =============================================================================

// generate runs one JSON-mode risk call with the fixed settings.
func (c *RiskClassifier) generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, riskCallTimeout)
	defer cancel()

	temperature := float32(riskTemperature)
	maxTokens := riskMaxTokens
	start := time.Now()
	raw, err := c.llmClient.Generate(ctx, prompt, llm.GenerationParams{
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
		SystemPrompt: systemPrompt,
		JSONMode:     true,
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordGenerationDuration(observability.OpRiskAssessment, time.Since(start).Seconds())
	}
	return raw, err
}

// parseReasonList accepts either a JSON string or a JSON string array and
// returns a cleaned, capped reason list. Unparseable or empty input yields
// an empty list.
func parseReasonList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		single = strings.TrimSpace(single)
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	cleaned := make([]string, 0, len(many))
	for _, r := range many {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == maxAssessmentReasons {
			break
		}
	}
	return cleaned
}
