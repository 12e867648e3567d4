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

	"github.com/dgraph-io/badger/v4"

	"github.com/NeurowatchAI/Neurowatch/services/orchestrator/datatypes"
)

// =============================================================================
// Badger-Backed Implementation
// =============================================================================

// sessionKeyPrefix namespaces session records inside the badger keyspace.
const sessionKeyPrefix = "session/"

func sessionKey(sessionID string) []byte {
	return []byte(sessionKeyPrefix + sessionID)
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerSessionRepository stores monitoring sessions in an embedded BadgerDB.
//
// # Description
//
// Durable variant of the session repository: sessions survive process
// restarts. Records are stored as JSON values under "session/<session_id>"
// keys. Selected with SESSION_STORE=badger.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerSessionRepository struct {
	db *badger.DB
}

// OpenBadgerSessionRepository opens (creating if needed) a badger database
// at path and returns a repository backed by it.
//
// # Inputs
//
//   - path: Directory for the database files. Created if it doesn't exist.
//   - logger: Optional logger for BadgerDB's internal messages. Nil disables
//     badger's own logging.
//
// # Outputs
//
//   - *BadgerSessionRepository: The opened repository. Caller must Close().
//   - error: Non-nil when the database cannot be opened.
func OpenBadgerSessionRepository(path string, logger *slog.Logger) (*BadgerSessionRepository, error) {
	if path == "" {
		return nil, errors.New("session store path must not be empty")
	}

	opts := badger.DefaultOptions(path)
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session database at %s: %w", path, err)
	}

	slog.Info("Badger session repository opened", "path", path)
	return &BadgerSessionRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *BadgerSessionRepository) Close() error {
	return r.db.Close()
}

// Get reads and decodes the session record.
func (r *BadgerSessionRepository) Get(ctx context.Context, sessionID string) (*datatypes.MonitoringSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var raw []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var session datatypes.MonitoringSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Put encodes and writes the session record.
func (r *BadgerSessionRepository) Put(ctx context.Context, session *datatypes.MonitoringSession) error {
	if err := validateSessionForPut(session); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.SessionID, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(session.SessionID), raw)
	})
	if err != nil {
		return fmt.Errorf("write session %s: %w", session.SessionID, err)
	}
	return nil
}

// Delete removes the session record. Deleting an absent key is a no-op in
// badger, matching the repository contract.
func (r *BadgerSessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// List scans the session prefix and decodes every record. Records that fail
// to decode are skipped with a warning rather than failing the whole scan.
func (r *BadgerSessionRepository) List(ctx context.Context) ([]*datatypes.MonitoringSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	prefix := []byte(sessionKeyPrefix)
	var sessions []*datatypes.MonitoringSession

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read key %s: %w", item.Key(), err)
			}

			var session datatypes.MonitoringSession
			if err := json.Unmarshal(raw, &session); err != nil {
				slog.Warn("Skipping corrupt session record",
					"key", string(item.Key()),
					"error", err)
				continue
			}
			sessions = append(sessions, &session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
