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

// Package postgres provides the multi-worker outboxstore.Store backend:
// definitions plus wait/retry outbox rows, batch-claimed with
// "SELECT ... FOR UPDATE SKIP LOCKED" so many consumer/outbox-processor
// replicas can share one database without ever double-delivering a row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/workflowrt/engine/internal/outboxstore"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ outboxstore.Store = (*Store)(nil)

// Store is a PostgreSQL-backed outboxstore.Store.
type Store struct {
	db *sql.DB
}

// Config contains PostgreSQL connection configuration.
type Config struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// New opens a connection pool at cfg.ConnectionString and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS definitions (
			name VARCHAR(255) NOT NULL,
			version VARCHAR(64) NOT NULL,
			definition BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_rows (
			id VARCHAR(36) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			message BYTEA NOT NULL,
			status VARCHAR(16) NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 0,
			delayed_until TIMESTAMPTZ NOT NULL,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sent_at TIMESTAMPTZ
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
		`SELECT definition FROM definitions WHERE name = $1 AND version = $2`, name, version,
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
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name, version) DO UPDATE SET definition = EXCLUDED.definition
	`, name, version, definition)
	if err != nil {
		return fmt.Errorf("failed to store definition: %w", err)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, row outboxstore.Row) error {
	if row.Status == "" {
		row.Status = outboxstore.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox_rows (id, kind, message, status, attempt_count, max_attempts, delayed_until, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, row.ID, row.Kind, row.Message, row.Status, row.AttemptCount, row.MaxAttempts, row.DelayedUntil, row.LastError)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox row: %w", err)
	}
	return nil
}

// ClaimBatch is the §4.6 row-selection query: up to batchSize PENDING rows
// due by now, under their attempt ceiling, locked with FOR UPDATE SKIP
// LOCKED so a sibling replica running the same query concurrently skips
// whatever this one already holds rather than blocking or double-claiming.
func (s *Store) ClaimBatch(ctx context.Context, kind string, batchSize int) ([]outboxstore.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, message, status, attempt_count, max_attempts, delayed_until, last_error, created_at
		FROM outbox_rows
		WHERE kind = $1 AND status = $2 AND delayed_until <= NOW()
			AND (max_attempts = 0 OR attempt_count < max_attempts)
		ORDER BY delayed_until ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, kind, outboxstore.StatusPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable rows: %w", err)
	}

	var claimed []outboxstore.Row
	for rows.Next() {
		var r outboxstore.Row
		if err := rows.Scan(&r.ID, &r.Kind, &r.Message, &r.Status, &r.AttemptCount, &r.MaxAttempts, &r.DelayedUntil, &r.LastError, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimable rows: %w", err)
	}

	for i := range claimed {
		claimed[i].AttemptCount++
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_rows SET attempt_count = $1 WHERE id = $2`, claimed[i].AttemptCount, claimed[i].ID); err != nil {
			return nil, fmt.Errorf("failed to bump attempt_count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_rows SET status = $1, sent_at = NOW() WHERE id = $2`,
		outboxstore.StatusSent, id)
	if err != nil {
		return fmt.Errorf("failed to mark row sent: %w", err)
	}
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id string, lastError string, delayedUntil time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_rows SET last_error = $1, delayed_until = $2 WHERE id = $3`,
		lastError, delayedUntil, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule row: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_rows SET status = $1, last_error = $2 WHERE id = $3`,
		outboxstore.StatusFailed, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark row failed: %w", err)
	}
	return nil
}

// CleanupSent mirrors ClaimBatch's skip-locked shape so a cleanup worker
// and a claiming worker never fight over the same rows.
func (s *Store) CleanupSent(ctx context.Context, kind string, olderThan time.Time, batchSize int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_rows
		WHERE id IN (
			SELECT id FROM outbox_rows
			WHERE kind = $1 AND status = $2 AND sent_at < $3
			ORDER BY sent_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
	`, kind, outboxstore.StatusSent, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sent rows: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
