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

// Package outboxstore declares the row shape and storage contract shared by
// every outbox backend (internal/outboxstore/{memory,sqlite,postgres}):
// durable Wait/Retry continuations plus the definitions table the
// definition store (internal/defstore) reads cold messages from, since the
// two share one migration per backend.
package outboxstore

import (
	"context"
	"time"

	"github.com/workflowrt/engine/internal/defstore"
)

// Row statuses, matching the Data Model's outbox row lifecycle.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Row is one durable delayed continuation: a Message envelope plus the
// retry bookkeeping §4.6 describes.
type Row struct {
	ID           string
	Kind         string // "wait" | "retry"
	Message      []byte // envelope.Encode(msg)
	Status       string
	AttemptCount int
	MaxAttempts  int
	DelayedUntil time.Time
	LastError    string
	CreatedAt    time.Time
	SentAt       time.Time // set by MarkSent; CleanupSent retains rows by this, not DelayedUntil
}

// Store is the durable backend an outbox.Processor claims batches from and
// a definition store reads cold messages from. Every concrete backend
// (memory, sqlite, postgres) implements both halves from one migration, per
// SPEC_FULL §12.
type Store interface {
	defstore.Backend

	// Enqueue inserts a new PENDING row.
	Enqueue(ctx context.Context, row Row) error

	// ClaimBatch selects and locks up to batchSize PENDING rows of kind
	// whose delayedUntil has passed and whose attemptCount is still under
	// maxAttempts, ordered by delayedUntil ascending, skipping rows
	// already locked by a concurrent claimant (the SQL dialect's
	// "FOR UPDATE SKIP LOCKED" form). Each claimed row's attemptCount is
	// incremented as part of the same claiming transaction.
	ClaimBatch(ctx context.Context, kind string, batchSize int) ([]Row, error)

	// MarkSent records a successful send.
	MarkSent(ctx context.Context, id string) error

	// MarkRetry records a failed send that still has attempts left,
	// rescheduling delayedUntil.
	MarkRetry(ctx context.Context, id string, lastError string, delayedUntil time.Time) error

	// MarkFailed records a failed send whose attempts are exhausted. The
	// row is kept (never deleted) as an audit trail.
	MarkFailed(ctx context.Context, id string, lastError string) error

	// CleanupSent deletes up to batchSize SENT rows of kind whose sentAt
	// is older than olderThan, using the same skip-locked batch selection
	// as ClaimBatch.
	CleanupSent(ctx context.Context, kind string, olderThan time.Time, batchSize int) (int64, error)

	Close() error
}
