// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite outboxstore.Store for single-node
// deployments: definitions plus the wait/retry outbox rows, one migration,
// one file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/workflowrt/engine/internal/outboxstore"
	_ "modernc.org/sqlite"
)

var _ outboxstore.Store = (*Store)(nil)

// Store is a SQLite-backed outboxstore.Store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	Path string
	WAL  bool
}

// New opens db at cfg.Path, configures pragmas, and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn
	// under concurrent goroutines in this process.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS definitions (
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			definition BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_rows (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			message BLOB NOT NULL,
			status TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 0,
			delayed_until TEXT NOT NULL,
			last_error TEXT,
			created_at TEXT NOT NULL,
			sent_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_rows_claim ON outbox_rows(kind, status, delayed_until)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_rows_cleanup ON outbox_rows(kind, status, sent_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, name, version string) ([]byte, error) {
	var def []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM definitions WHERE name = ? AND version = ?`, name, version,
	).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("definition not found: %s@%s", name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch definition: %w", err)
	}
	return def, nil
}

func (s *Store) PutDefinition(ctx context.Context, name, version string, definition []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO definitions (name, version, definition, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name, version) DO UPDATE SET definition = excluded.definition
	`, name, version, definition, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store definition: %w", err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, row outboxstore.Row) error {
	if row.Status == "" {
		row.Status = outboxstore.StatusPending
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox_rows (id, kind, message, status, attempt_count, max_attempts, delayed_until, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.Kind, row.Message, row.Status, row.AttemptCount, row.MaxAttempts,
		row.DelayedUntil.UTC().Format(time.RFC3339Nano), row.LastError, row.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox row: %w", err)
	}
	return nil
}

// ClaimBatch runs the claim as one write transaction. SQLite has no
// multi-process "FOR UPDATE SKIP LOCKED" (this process holds the only
// connection to the file); since the store keeps a single open connection,
// a concurrent goroutine in this process waits for that connection rather
// than double-claiming, which is the single-process analogue of skip-locked.
func (s *Store) ClaimBatch(ctx context.Context, kind string, batchSize int) ([]outboxstore.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, message, status, attempt_count, max_attempts, delayed_until, last_error, created_at
		FROM outbox_rows
		WHERE kind = ? AND status = ? AND delayed_until <= ?
			AND (max_attempts = 0 OR attempt_count < max_attempts)
		ORDER BY delayed_until ASC
		LIMIT ?
	`, kind, outboxstore.StatusPending, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable rows: %w", err)
	}

	var claimed []outboxstore.Row
	for rows.Next() {
		var r outboxstore.Row
		var delayedUntil, createdAt string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Message, &r.Status, &r.AttemptCount, &r.MaxAttempts, &delayedUntil, &r.LastError, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		r.DelayedUntil, _ = time.Parse(time.RFC3339Nano, delayedUntil)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimable rows: %w", err)
	}

	for i := range claimed {
		claimed[i].AttemptCount++
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_rows SET attempt_count = ? WHERE id = ?`, claimed[i].AttemptCount, claimed[i].ID); err != nil {
			return nil, fmt.Errorf("failed to bump attempt_count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_rows SET status = ?, sent_at = ? WHERE id = ?`,
		outboxstore.StatusSent, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to mark row sent: %w", err)
	}
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id string, lastError string, delayedUntil time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_rows SET last_error = ?, delayed_until = ? WHERE id = ?`,
		lastError, delayedUntil.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to reschedule row: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_rows SET status = ?, last_error = ? WHERE id = ?`,
		outboxstore.StatusFailed, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark row failed: %w", err)
	}
	return nil
}

func (s *Store) CleanupSent(ctx context.Context, kind string, olderThan time.Time, batchSize int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_rows WHERE id IN (
			SELECT id FROM outbox_rows
			WHERE kind = ? AND status = ? AND sent_at < ?
			ORDER BY sent_at ASC
			LIMIT ?
		)
	`, kind, outboxstore.StatusSent, olderThan.UTC().Format(time.RFC3339Nano), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sent rows: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
