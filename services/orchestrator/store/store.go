// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the relational layer for patients and chat history.
//
// # Description
//
// Backed by gorm over an embedded SQLite database (pure-Go driver, no cgo).
// Two tables: patients (registry) and chat_messages (append-only exchange
// history carrying the risk tags the summary endpoint aggregates). The
// vector side of the system lives in weaviate; nothing in this package
// touches embeddings.
//
// # Thread Safety
//
// All methods are safe for concurrent use; gorm manages the connection pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPatientNotFound indicates the patient ID is not registered.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrDuplicatePatient indicates the patient ID or email is already taken.
	ErrDuplicatePatient = errors.New("patient ID or email already exists")
)

// DefaultHistoryLimit caps history reads when the caller passes no limit.
const DefaultHistoryLimit = 50

// =============================================================================
// Store Interface
// =============================================================================

// RiskSummary aggregates the persisted risk tags of one patient's history
// window.
type RiskSummary struct {
	// Distribution counts rows per risk level as stored.
	Distribution map[string]int

	// Total is the number of rows in the window.
	Total int

	// MaxLevel is the most severe classifier level present
	// (CRITICAL > HIGH > MEDIUM > LOW), or UNKNOWN when the window holds
	// none of them.
	MaxLevel string
}

// Store is the relational persistence surface for patients and history.
type Store interface {
	// RegisterPatient inserts a new patient. ErrDuplicatePatient when the
	// patient ID or email is already taken.
	RegisterPatient(ctx context.Context, patient *Patient) error

	// GetPatient returns the record, or ErrPatientNotFound.
	GetPatient(ctx context.Context, patientID string) (*Patient, error)

	// CountPatients reports the number of registered patients.
	CountPatients(ctx context.Context) (int64, error)

	// TouchLastActive stamps the patient's LastActive with the current time.
	TouchLastActive(ctx context.Context, patientID string) error

	// SaveChatMessage appends one exchange row.
	SaveChatMessage(ctx context.Context, msg *ChatMessage) error

	// History returns the newest `limit` rows in chronological order.
	History(ctx context.Context, patientID string, limit int) ([]ChatMessage, error)

	// ClearHistory deletes all history rows for the patient, returning the
	// number removed.
	ClearHistory(ctx context.Context, patientID string) (int64, error)

	// RiskSummary aggregates risk tags over the last `days` days.
	RiskSummary(ctx context.Context, patientID string, days int) (*RiskSummary, error)
}

// =============================================================================
// SQLite Implementation
// =============================================================================

// SQLStore implements Store over gorm + SQLite.
type SQLStore struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at dsn, migrates the
// schema, and returns the store.
//
// # Inputs
//
//   - dsn: SQLite DSN. A plain file path, or "file::memory:?cache=shared"
//     for an in-process database.
//
// # Outputs
//
//   - *SQLStore: Ready-to-use store. Caller should Close() on shutdown.
//   - error: Non-nil when the database cannot be opened or migrated.
func Open(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("store DSN must not be empty")
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store at %s: %w", dsn, err)
	}

	if err := db.AutoMigrate(&Patient{}, &ChatMessage{}); err != nil {
		return nil, fmt.Errorf("migrate store schema: %w", err)
	}

	slog.Info("Relational store opened", "dsn", dsn)
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RegisterPatient inserts the patient, stamping CreatedAt/LastActive when
// unset. Unique-index violations on patient ID or email surface as
// ErrDuplicatePatient.
func (s *SQLStore) RegisterPatient(ctx context.Context, patient *Patient) error {
	if patient == nil {
		return errors.New("patient must not be nil")
	}
	if patient.PatientID == "" {
		return errors.New("patient ID must not be empty")
	}

	now := time.Now().UTC()
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = now
	}
	if patient.LastActive.IsZero() {
		patient.LastActive = now
	}

	err := s.db.WithContext(ctx).Create(patient).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicatePatient
	}
	if err != nil {
		return fmt.Errorf("register patient %s: %w", patient.PatientID, err)
	}
	return nil
}

// GetPatient looks up by external patient ID.
func (s *SQLStore) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	var patient Patient
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", patientID, err)
	}
	return &patient, nil
}

// CountPatients reports the registry size.
func (s *SQLStore) CountPatients(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Patient{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return count, nil
}

// TouchLastActive stamps LastActive. ErrPatientNotFound when no row matches.
func (s *SQLStore) TouchLastActive(ctx context.Context, patientID string) error {
	result := s.db.WithContext(ctx).
		Model(&Patient{}).
		Where("patient_id = ?", patientID).
		Update("last_active", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("touch patient %s: %w", patientID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// SaveChatMessage appends one exchange row, stamping CreatedAt when unset.
func (s *SQLStore) SaveChatMessage(ctx context.Context, msg *ChatMessage) error {
	if msg == nil {
		return errors.New("message must not be nil")
	}
	if msg.PatientID == "" {
		return errors.New("message patient ID must not be empty")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save chat message for %s: %w", msg.PatientID, err)
	}
	return nil
}

// History fetches the newest `limit` rows in DESC id order, then reverses
// them so callers always see chronological order.
func (s *SQLStore) History(ctx context.Context, patientID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var rows []ChatMessage
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", patientID, err)
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// ClearHistory deletes every history row for the patient.
func (s *SQLStore) ClearHistory(ctx context.Context, patientID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Delete(&ChatMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("clear history for %s: %w", patientID, result.Error)
	}
	return result.RowsAffected, nil
}

// riskPriority orders classifier levels for the max computation. Persistence
// markers (MONITORING, UNKNOWN, empty) rank below every classifier level.
var riskPriority = map[string]int{
	"LOW":      1,
	"MEDIUM":   2,
	"HIGH":     3,
	"CRITICAL": 4,
}

// RiskSummary aggregates risk tags over the last `days` days with a single
// GROUP BY. Rows with an empty risk level are counted under UNKNOWN.
func (s *SQLStore) RiskSummary(ctx context.Context, patientID string, days int) (*RiskSummary, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var rows []struct {
		RiskLevel string
		Count     int
	}
	err := s.db.WithContext(ctx).
		Model(&ChatMessage{}).
		Select("risk_level, COUNT(*) as count").
		Where("patient_id = ? AND created_at >= ?", patientID, cutoff).
		Group("risk_level").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summarize risk for %s: %w", patientID, err)
	}

	summary := &RiskSummary{
		Distribution: make(map[string]int, len(rows)),
		MaxLevel:     "UNKNOWN",
	}
	maxPriority := 0
	for _, row := range rows {
		level := row.RiskLevel
		if level == "" {
			level = "UNKNOWN"
		}
		summary.Distribution[level] += row.Count
		summary.Total += row.Count
		if p := riskPriority[level]; p > maxPriority {
			maxPriority = p
			summary.MaxLevel = level
		}
	}
	return summary, nil
}
