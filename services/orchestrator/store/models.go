// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"time"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// =============================================================================
// Models
// =============================================================================

// Patient is a registered patient record.
//
// PatientID is the caller-supplied external identifier used by every API
// surface; the integer primary key never leaves the store. Email is nullable
// so the unique index only applies to patients that provided one.
type Patient struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	PatientID      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"patient_id"`
	Name           string    `gorm:"type:varchar(128);not null" json:"name"`
	Age            int       `json:"age"`
	Email          *string   `gorm:"type:varchar(128);uniqueIndex" json:"email,omitempty"`
	MedicalHistory string    `gorm:"type:text" json:"medical_history,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
}

func (Patient) TableName() string { return "patients" }

// Response converts the record to the API representation.
func (p *Patient) Response() *datatypes.PatientResponse {
	email := ""
	if p.Email != nil {
		email = *p.Email
	}
	return &datatypes.PatientResponse{
		PatientID:      p.PatientID,
		Name:           p.Name,
		Age:            p.Age,
		Email:          email,
		MedicalHistory: p.MedicalHistory,
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
		LastActive:     p.LastActive.UTC().Format(time.RFC3339),
	}
}

// ChatMessage is one persisted exchange in a patient's history. Append-only:
// rows are never updated, only inserted and (via history clearing or the
// retention path) deleted.
//
// SourceDocuments holds a JSON-encoded string array; use SetSourceDocuments
// and SourceDocumentList instead of touching the column directly.
type ChatMessage struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	PatientID       string    `gorm:"type:varchar(64);index;not null" json:"patient_id"`
	Question        string    `gorm:"type:text;not null" json:"question"`
	Answer          string    `gorm:"type:text" json:"answer"`
	RiskLevel       string    `gorm:"type:varchar(16);index" json:"risk_level"`
	RiskReason      string    `gorm:"type:text" json:"risk_reason"`
	SourceDocuments string    `gorm:"type:text" json:"source_documents"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// SetSourceDocuments serializes the source labels into the JSON column.
func (m *ChatMessage) SetSourceDocuments(sources []string) error {
	if len(sources) == 0 {
		m.SourceDocuments = ""
		return nil
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	m.SourceDocuments = string(raw)
	return nil
}

// SourceDocumentList deserializes the JSON column. Empty or malformed
// columns yield nil rather than an error; history rendering never fails on
// one bad row.
func (m *ChatMessage) SourceDocumentList() []string {
	if m.SourceDocuments == "" {
		return nil
	}
	var sources []string
	if err := json.Unmarshal([]byte(m.SourceDocuments), &sources); err != nil {
		return nil
	}
	return sources
}

// HistoryEntry converts the row to the API representation.
func (m *ChatMessage) HistoryEntry() datatypes.ChatHistoryEntry {
	return datatypes.ChatHistoryEntry{
		Question:        m.Question,
		Answer:          m.Answer,
		RiskLevel:       m.RiskLevel,
		RiskReason:      m.RiskReason,
		SourceDocuments: m.SourceDocumentList(),
		Timestamp:       m.CreatedAt.UTC().Format(time.RFC3339),
	}
}
