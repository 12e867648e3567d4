// Copyright (C) 2025 Neurowatch AI (engineering@neurowatch.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retention

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// =============================================================================
// Deletion Audit Log
// =============================================================================

// GenesisHash is the PrevHash of the first record in a new audit log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// auditLogFileMode restricts the audit log to owner read/write only.
const auditLogFileMode = os.FileMode(0600)

// Operation names recorded for swept sessions.
const (
	OpDeleteCompleted = "delete_completed_session"
	OpDeleteStale     = "delete_stale_session"
)

// DeletionRecord is one tamper-evident entry in the audit chain.
//
// # Description
//
// Each deletion is recorded with a hash of the deleted session content and
// linked to the previous record, so that modifying any historical entry
// breaks the chain during verification.
//
// # Fields
//
//   - Sequence: Monotonically increasing sequence number (starts at 1).
//   - Timestamp: RFC3339 formatted timestamp of the deletion.
//   - Operation: Why the session was deleted (OpDeleteCompleted, OpDeleteStale).
//   - ContentHash: SHA-256 hash of the deleted session JSON (hex encoded).
//   - SessionID: Identifier of the deleted monitoring session.
//   - PatientID: Patient the session belonged to.
//   - PrevHash: EntryHash of the previous record (GenesisHash for the first).
//   - EntryHash: SHA-256 hash of this record's fields (hex encoded).
type DeletionRecord struct {
	Sequence    int64  `json:"sequence"`
	Timestamp   string `json:"timestamp"`
	Operation   string `json:"operation"`
	ContentHash string `json:"content_hash"`
	SessionID   string `json:"session_id"`
	PatientID   string `json:"patient_id,omitempty"`
	PrevHash    string `json:"prev_hash"`
	EntryHash   string `json:"entry_hash"`
}

// DeletionMetadata carries optional context for a deletion record.
type DeletionMetadata struct {
	PatientID string
}

// AuditLog records session deletions with hash chain integrity.
//
// # Description
//
// Deletion records go to a dedicated JSONL file; each record links to the
// previous one through its hash, forming a tamper-evident chain. Sweep
// summaries and errors are written to the same file as plain records outside
// the chain. Structured logs additionally go to slog for monitoring.
//
// # Limitations
//
//   - Log rotation must be handled externally.
//   - File writes are synchronous.
//
// # Assumptions
//
//   - The log file path is writable.
//   - System clock is reasonably accurate for timestamps.
type AuditLog interface {
	// LogDeletion appends a deletion record to the hash chain.
	//
	// # Inputs
	//
	//   - content: The deleted session serialized as JSON (hashed, not stored).
	//   - sessionID: Identifier of the deleted session.
	//   - operation: OpDeleteCompleted or OpDeleteStale.
	//   - metadata: Additional context (patient ID).
	//
	// # Outputs
	//
	//   - DeletionRecord: The record that was created and logged.
	//   - error: Non-nil if the write fails.
	LogDeletion(content []byte, sessionID string, operation string, metadata DeletionMetadata) (DeletionRecord, error)

	// LogSweep appends a sweep cycle summary. Summaries are not part of
	// the hash chain.
	LogSweep(result SweepResult) error

	// LogError appends an error record with context describing what was
	// being attempted. Error records are not part of the hash chain.
	LogError(err error, context string) error

	// VerifyChain checks hash chain integrity across the whole log.
	//
	// # Outputs
	//
	//   - valid: True if every record links to its predecessor and hashes
	//     to its stored EntryHash.
	//   - breakIndex: Index of the first broken record (-1 if valid).
	//   - error: Non-nil if verification could not complete.
	VerifyChain() (valid bool, breakIndex int64, err error)

	// EntryCount returns the number of deletion records in the log.
	EntryCount() (int64, error)

	// LastEntry returns the most recent deletion record, or nil when the
	// log holds none.
	LastEntry() (*DeletionRecord, error)

	// VerifyFilePermissions checks the log file still has restricted
	// permissions (0600). Detects external tampering with the file mode.
	VerifyFilePermissions() error

	// Close flushes and closes the log file. Safe to call more than once.
	Close() error
}

// fileAuditLog implements AuditLog over an append-only JSONL file.
type fileAuditLog struct {
	logFile  *os.File
	logPath  string
	fileMu   sync.Mutex
	sequence int64
	prevHash string
}

// NewAuditLog opens (or creates) the audit log at logPath.
//
// # Description
//
// The file is opened in append mode with 0600 permissions. If it already
// contains deletion records, the hash chain resumes from the last one:
// sequence numbers continue and the new first record links to the existing
// tail.
//
// # Inputs
//
//   - logPath: Path of the JSONL audit file.
//
// # Outputs
//
//   - AuditLog: Ready to record deletions.
//   - error: Non-nil if the file cannot be opened or the existing chain
//     state cannot be read.
func NewAuditLog(logPath string) (AuditLog, error) {
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open retention audit log: %w", err)
	}

	log := &fileAuditLog{
		logFile:  file,
		logPath:  logPath,
		prevHash: GenesisHash,
	}

	if err := log.initializeChainState(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to initialize chain state: %w", err)
	}

	slog.Info("retention audit log initialized",
		"log_path", logPath,
		"starting_sequence", log.sequence,
	)

	return log, nil
}

// LogDeletion appends a deletion record to the hash chain.
func (l *fileAuditLog) LogDeletion(content []byte, sessionID string, operation string, metadata DeletionMetadata) (DeletionRecord, error) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	l.sequence++

	record := DeletionRecord{
		Sequence:    l.sequence,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Operation:   operation,
		ContentHash: computeSHA256(content),
		SessionID:   sessionID,
		PatientID:   metadata.PatientID,
		PrevHash:    l.prevHash,
	}
	record.EntryHash = computeRecordHash(record)

	if err := l.writeRecord(record); err != nil {
		return DeletionRecord{}, fmt.Errorf("failed to write deletion record: %w", err)
	}

	l.prevHash = record.EntryHash

	slog.Info("retention.deletion.logged",
		"sequence", record.Sequence,
		"operation", record.Operation,
		"session_id", record.SessionID,
		"content_hash", record.ContentHash[:16]+"...",
	)

	return record, nil
}

// sweepSummaryRecord represents a sweep cycle summary (not part of hash chain).
type sweepSummaryRecord struct {
	Timestamp        string `json:"timestamp"`
	Operation        string `json:"operation"`
	SessionsExamined int    `json:"sessions_examined"`
	CompletedDeleted int    `json:"completed_deleted"`
	StaleDeleted     int    `json:"stale_deleted"`
	DurationMs       int64  `json:"duration_ms"`
	ErrorCount       int    `json:"error_count"`
}

// errorLogRecord represents an error entry (not part of hash chain).
type errorLogRecord struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Context   string `json:"context"`
	Error     string `json:"error"`
}

// LogSweep appends a sweep cycle summary outside the hash chain.
func (l *fileAuditLog) LogSweep(result SweepResult) error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	summary := sweepSummaryRecord{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Operation:        "sweep_cycle",
		SessionsExamined: result.SessionsExamined,
		CompletedDeleted: result.CompletedDeleted,
		StaleDeleted:     result.StaleDeleted,
		DurationMs:       result.DurationMs(),
		ErrorCount:       len(result.Errors),
	}

	jsonBytes, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep summary: %w", err)
	}

	if _, err := l.logFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write sweep summary: %w", err)
	}

	return nil
}

// LogError appends an error record outside the hash chain.
func (l *fileAuditLog) LogError(err error, context string) error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	record := errorLogRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Operation: "error",
		Context:   context,
		Error:     err.Error(),
	}

	jsonBytes, marshalErr := json.Marshal(record)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal error record: %w", marshalErr)
	}

	if _, writeErr := l.logFile.Write(append(jsonBytes, '\n')); writeErr != nil {
		return fmt.Errorf("failed to write error record: %w", writeErr)
	}

	slog.Error("retention.sweep.error",
		"context", context,
		"error", err.Error(),
	)

	return nil
}

// VerifyChain checks hash chain integrity across the whole log.
//
// # Description
//
// Reads every deletion record in order and verifies two things per record:
// its PrevHash equals the previous record's EntryHash, and its EntryHash
// matches a recomputation over its own fields. Records outside the chain
// (sweep summaries, errors) are skipped; they carry no sequence number.
func (l *fileAuditLog) VerifyChain() (valid bool, breakIndex int64, err error) {
	file, err := os.Open(l.logPath)
	if err != nil {
		return false, -1, fmt.Errorf("failed to open audit log for verification: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	prevHash := GenesisHash
	var recordIndex int64

	for scanner.Scan() {
		line := scanner.Bytes()

		var record DeletionRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if record.Sequence == 0 {
			continue // Summary and error records are not chained
		}

		if record.PrevHash != prevHash {
			return false, recordIndex, nil
		}

		if computeRecordHash(record) != record.EntryHash {
			return false, recordIndex, nil
		}

		prevHash = record.EntryHash
		recordIndex++
	}

	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("error reading audit log: %w", err)
	}

	return true, -1, nil
}

// EntryCount returns the number of deletion records in the log.
func (l *fileAuditLog) EntryCount() (int64, error) {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var count int64

	for scanner.Scan() {
		var record DeletionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > 0 {
			count++
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error reading audit log: %w", err)
	}

	return count, nil
}

// LastEntry returns the most recent deletion record, or nil when none exist.
func (l *fileAuditLog) LastEntry() (*DeletionRecord, error) {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lastRecord *DeletionRecord

	for scanner.Scan() {
		var record DeletionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > 0 {
			recordCopy := record
			lastRecord = &recordCopy
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading audit log: %w", err)
	}

	return lastRecord, nil
}

// VerifyFilePermissions checks the log file still has mode 0600.
func (l *fileAuditLog) VerifyFilePermissions() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile == nil {
		return fmt.Errorf("audit log file is not open")
	}

	info, err := l.logFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat audit log: %w", err)
	}

	mode := info.Mode().Perm()
	if mode != auditLogFileMode {
		return fmt.Errorf("audit log permissions changed: expected %04o, got %04o", auditLogFileMode, mode)
	}

	return nil
}

// Close flushes and closes the log file.
func (l *fileAuditLog) Close() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close audit log: %w", err)
		}
		l.logFile = nil
	}
	return nil
}

// =============================================================================
// Internal Functions
// =============================================================================

// initializeChainState reads the existing log to find the last sequence and
// hash, so a reopened log continues the chain instead of restarting it.
func (l *fileAuditLog) initializeChainState() error {
	file, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open audit log for reading: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lastRecord DeletionRecord

	for scanner.Scan() {
		var record DeletionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > 0 {
			lastRecord = record
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading audit log: %w", err)
	}

	if lastRecord.Sequence > 0 {
		l.sequence = lastRecord.Sequence
		l.prevHash = lastRecord.EntryHash
	}

	return nil
}

// writeRecord writes a DeletionRecord to the audit file as one JSON line.
func (l *fileAuditLog) writeRecord(record DeletionRecord) error {
	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := l.logFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

// computeSHA256 returns the hex-encoded SHA-256 hash of content.
func computeSHA256(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// computeRecordHash hashes a record's fields (excluding EntryHash) in a
// stable order for chain linking and verification.
func computeRecordHash(record DeletionRecord) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s",
		record.Sequence,
		record.Timestamp,
		record.Operation,
		record.ContentHash,
		record.SessionID,
		record.PatientID,
		record.PrevHash,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
