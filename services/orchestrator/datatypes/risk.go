// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the risk and answer-type vocabulary shared by the
// monitoring and freeform chat paths.
package datatypes

import "strings"

// =============================================================================
// Answer Types
// =============================================================================

// Answer types a monitoring question may declare. Submitted answers are
// validated against the declared type before being recorded.
const (
	AnswerTypeYesNo      = "YES_NO"
	AnswerTypeScale0To10 = "SCALE_0_10"
	AnswerTypeShortText  = "SHORT_TEXT"
)

// NormalizeAnswerType uppercases the input and reports whether it is one of
// the allowed answer types.
func NormalizeAnswerType(answerType string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(answerType))
	switch normalized {
	case AnswerTypeYesNo, AnswerTypeScale0To10, AnswerTypeShortText:
		return normalized, true
	default:
		return normalized, false
	}
}

// =============================================================================
// Risk Levels
// =============================================================================

// Risk levels. The monitoring assessment path only ever produces LOW, MEDIUM
// or HIGH; the freeform chat path may additionally produce CRITICAL.
// MONITORING and UNKNOWN are persistence markers, never classifier output.
const (
	RiskLevelLow        = "LOW"
	RiskLevelMedium     = "MEDIUM"
	RiskLevelHigh       = "HIGH"
	RiskLevelCritical   = "CRITICAL"
	RiskLevelMonitoring = "MONITORING"
	RiskLevelUnknown    = "UNKNOWN"
)

// NormalizeMonitoringRiskLevel uppercases the input and reports whether it is
// a valid monitoring-path risk level (CRITICAL is not).
func NormalizeMonitoringRiskLevel(level string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(level))
	switch normalized {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return normalized, true
	default:
		return normalized, false
	}
}

// NormalizeChatRiskLevel uppercases the input and reports whether it is a
// valid chat-path risk level.
func NormalizeChatRiskLevel(level string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(level))
	switch normalized {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return normalized, true
	default:
		return normalized, false
	}
}

// =============================================================================
// Assessment Result
// =============================================================================

// RiskAssessment is the structured outcome of a monitoring session
// assessment. Reason always holds one to three short bullet strings; Action
// is never empty.
type RiskAssessment struct {
	RiskLevel           string   `json:"risk_level"`
	Reason              []string `json:"reason"`
	Action              string   `json:"action"`
	TotalQuestionsAsked int      `json:"total_questions_asked"`
	Timestamp           string   `json:"timestamp"`
}
