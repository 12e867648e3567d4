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
// This file contains patient registry, report status, history, and risk
// summary types.
package datatypes

// Report status strings surfaced by GET /patient/:id/report/status.
const (
	ReportStatusReady    = "Ready for monitoring"
	ReportStatusAwaiting = "Awaiting medical report upload"
)

// RegisterPatientRequest is the body for POST /patient/register.
type RegisterPatientRequest struct {
	PatientID      string `json:"patient_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Age            int    `json:"age" validate:"gte=0,lte=150"`
	Email          string `json:"email" validate:"omitempty,email"`
	MedicalHistory string `json:"medical_history" validate:"omitempty,maxbytes"`
}

// Validate validates the RegisterPatientRequest fields.
func (r *RegisterPatientRequest) Validate() error {
	return chatValidate.Struct(r)
}

// PatientResponse is the patient record returned by the registry endpoints.
type PatientResponse struct {
	PatientID      string `json:"patient_id"`
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Email          string `json:"email,omitempty"`
	MedicalHistory string `json:"medical_history,omitempty"`
	CreatedAt      string `json:"created_at"`
	LastActive     string `json:"last_active"`
}

// ReportStatusResponse reports whether monitoring can start for a patient.
// Status carries one of the ReportStatus* strings.
type ReportStatusResponse struct {
	PatientID                string `json:"patient_id"`
	HasMedicalReport         bool   `json:"has_medical_report"`
	Status                   string `json:"status"`
	CanProceedWithMonitoring bool   `json:"can_proceed_with_monitoring"`
}

// ChatHistoryEntry is one persisted exchange from a patient's chat history.
type ChatHistoryEntry struct {
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	RiskLevel       string   `json:"risk_level"`
	RiskReason      string   `json:"risk_reason,omitempty"`
	SourceDocuments []string `json:"source_documents,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// ChatHistoryResponse is returned by GET /patient/:id/chat/history.
// Entries are in chronological order.
type ChatHistoryResponse struct {
	PatientID string             `json:"patient_id"`
	Total     int                `json:"total"`
	History   []ChatHistoryEntry `json:"history"`
}

// RiskSummaryResponse aggregates a patient's persisted risk tags over the
// queried window. MaxRiskLevel is the most severe level present, or UNKNOWN
// when the window is empty.
type RiskSummaryResponse struct {
	PatientID        string         `json:"patient_id"`
	RiskDistribution map[string]int `json:"risk_distribution"`
	TotalQueries     int            `json:"total_queries"`
	MaxRiskLevel     string         `json:"max_risk_level"`
}
