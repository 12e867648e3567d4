// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for the clinical monitoring
// pipeline. Metrics include:
//   - Session lifecycle counters (started, completed by risk level)
//   - Question generation counters (generated, duplicate regenerations)
//   - Risk classification counters (fallback engagements by mode)
//   - Report gate counters (blocked requests by surface)
//   - Generation latency histograms (by operation)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "neurowatch"

// Subsystem for monitoring pipeline metrics
const monitoringSubsystem = "monitoring"

// MonitoringMetrics holds all Prometheus metrics for the monitoring pipeline.
//
// # Description
//
// Provides counters and histograms for session flow, risk classification and
// generation latency. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - SessionsStartedTotal: Counter of monitoring sessions created.
//   - SessionsCompletedTotal: Counter of completed sessions by risk level.
//   - QuestionsGeneratedTotal: Counter of accepted generated questions.
//   - DuplicateRegenerationsTotal: Counter of duplicate-triggered retries.
//   - AnswersSubmittedTotal: Counter of validated answers by answer type.
//   - RiskFallbacksTotal: Counter of keyword-fallback engagements by mode.
//   - GateBlockedTotal: Counter of report-gate blocks by surface.
//   - ChatQueriesTotal: Counter of chat exchanges by assigned risk level.
//   - GenerationDurationSeconds: Histogram of LLM call latency by operation.
//
// # Thread Safety
//
// All operations are thread-safe.
type MonitoringMetrics struct {
	// SessionsStartedTotal counts monitoring sessions created.
	SessionsStartedTotal prometheus.Counter

	// SessionsCompletedTotal counts sessions completed by final risk level.
	// Labels: risk_level (LOW, MEDIUM, HIGH)
	SessionsCompletedTotal *prometheus.CounterVec

	// QuestionsGeneratedTotal counts accepted generated questions.
	QuestionsGeneratedTotal prometheus.Counter

	// DuplicateRegenerationsTotal counts regenerations triggered by a
	// duplicate question.
	DuplicateRegenerationsTotal prometheus.Counter

	// AnswersSubmittedTotal counts validated answers by answer type.
	// Labels: answer_type (YES_NO, SCALE_0_10, SHORT_TEXT)
	AnswersSubmittedTotal *prometheus.CounterVec

	// RiskFallbacksTotal counts keyword-fallback engagements.
	// Labels: mode (monitoring, chat)
	RiskFallbacksTotal *prometheus.CounterVec

	// GateBlockedTotal counts report-gate blocks.
	// Labels: surface (monitoring, chat)
	GateBlockedTotal *prometheus.CounterVec

	// ChatQueriesTotal counts chat exchanges by assigned risk level.
	// Labels: risk_level (LOW, MEDIUM, HIGH, CRITICAL)
	ChatQueriesTotal *prometheus.CounterVec

	// GenerationDurationSeconds measures LLM call latency.
	// Labels: operation (question_generation, risk_assessment,
	// answer_generation, daily_question)
	GenerationDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of MonitoringMetrics.
// Initialized by InitMetrics(). Callers nil-check before recording so unit
// tests that never initialize metrics stay quiet.
var DefaultMetrics *MonitoringMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *MonitoringMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *MonitoringMetrics {
	DefaultMetrics = &MonitoringMetrics{
		SessionsStartedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "sessions_started_total",
				Help:      "Total monitoring sessions created",
			},
		),

		SessionsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "sessions_completed_total",
				Help:      "Total monitoring sessions completed by final risk level",
			},
			[]string{"risk_level"},
		),

		QuestionsGeneratedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "questions_generated_total",
				Help:      "Total accepted generated monitoring questions",
			},
		),

		DuplicateRegenerationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "duplicate_regenerations_total",
				Help:      "Total question regenerations triggered by duplicates",
			},
		),

		AnswersSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "answers_submitted_total",
				Help:      "Total validated answers by answer type",
			},
			[]string{"answer_type"},
		),

		RiskFallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "risk_fallbacks_total",
				Help:      "Total keyword-fallback risk classifications by mode",
			},
			[]string{"mode"},
		),

		GateBlockedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "gate_blocked_total",
				Help:      "Total requests blocked by the report gate by surface",
			},
			[]string{"surface"},
		),

		ChatQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "chat_queries_total",
				Help:      "Total chat exchanges by assigned risk level",
			},
			[]string{"risk_level"},
		),

		GenerationDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: monitoringSubsystem,
				Name:      "generation_duration_seconds",
				Help:      "LLM call latency by operation",
				Buckets:   []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"operation"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Vocabulary
// =============================================================================

// Surface identifies which pipeline path hit the report gate.
type Surface string

const (
	// SurfaceMonitoring is the structured monitoring session path.
	SurfaceMonitoring Surface = "monitoring"

	// SurfaceChat is the freeform chat path.
	SurfaceChat Surface = "chat"
)

// Operation identifies a generation call site for latency labeling.
type Operation string

const (
	// OpQuestionGeneration is the next-question generation call.
	OpQuestionGeneration Operation = "question_generation"

	// OpRiskAssessment covers both session and exchange risk calls.
	OpRiskAssessment Operation = "risk_assessment"

	// OpAnswerGeneration is the chat answer generation call.
	OpAnswerGeneration Operation = "answer_generation"

	// OpDailyQuestion is the daily check-in generation call.
	OpDailyQuestion Operation = "daily_question"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordSessionStarted records a created monitoring session.
func (m *MonitoringMetrics) RecordSessionStarted() {
	m.SessionsStartedTotal.Inc()
}

// RecordSessionCompleted records a completed session with its final level.
func (m *MonitoringMetrics) RecordSessionCompleted(riskLevel string) {
	m.SessionsCompletedTotal.WithLabelValues(riskLevel).Inc()
}

// RecordQuestionGenerated records an accepted generated question.
func (m *MonitoringMetrics) RecordQuestionGenerated() {
	m.QuestionsGeneratedTotal.Inc()
}

// RecordDuplicateRegeneration records a duplicate-triggered retry.
func (m *MonitoringMetrics) RecordDuplicateRegeneration() {
	m.DuplicateRegenerationsTotal.Inc()
}

// RecordAnswerSubmitted records a validated answer.
func (m *MonitoringMetrics) RecordAnswerSubmitted(answerType string) {
	m.AnswersSubmittedTotal.WithLabelValues(answerType).Inc()
}

// RecordRiskFallback records a keyword-fallback classification.
func (m *MonitoringMetrics) RecordRiskFallback(mode string) {
	m.RiskFallbacksTotal.WithLabelValues(mode).Inc()
}

// RecordGateBlocked records a report-gate block.
func (m *MonitoringMetrics) RecordGateBlocked(surface Surface) {
	m.GateBlockedTotal.WithLabelValues(string(surface)).Inc()
}

// RecordChatQuery records a chat exchange with its assigned level.
func (m *MonitoringMetrics) RecordChatQuery(riskLevel string) {
	m.ChatQueriesTotal.WithLabelValues(riskLevel).Inc()
}

// RecordGenerationDuration records LLM call latency for an operation.
func (m *MonitoringMetrics) RecordGenerationDuration(op Operation, seconds float64) {
	m.GenerationDurationSeconds.WithLabelValues(string(op)).Observe(seconds)
}
