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

// Package memory provides an in-memory outboxstore.Store, for tests and
// single-process deployments that don't need a real database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/workflowrt/engine/internal/outboxstore"
)

type defKey struct{ name, version string }

// Store is an in-memory outboxstore.Store. A single mutex guards both the
// definitions map and the rows map rather than splitting locks per concern.
type Store struct {
	mu   sync.Mutex
	defs map[defKey][]byte
	rows map[string]*outboxstore.Row
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		defs: make(map[defKey][]byte),
		rows: make(map[string]*outboxstore.Row),
	}
}

func (s *Store) GetDefinition(ctx context.Context, name, version string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.defs[defKey{name, version}]
	if !ok {
		return nil, fmt.Errorf("definition not found: %s@%s", name, version)
	}
	return raw, nil
}

func (s *Store) PutDefinition(ctx context.Context, name, version string, definition []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[defKey{name, version}] = definition
	return nil
}

func (s *Store) Enqueue(ctx context.Context, row outboxstore.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.Status == "" {
		row.Status = outboxstore.StatusPending
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	cp := row
	s.rows[row.ID] = &cp
	return nil
}

// ClaimBatch has no row-level locks to skip (this Store is not shared
// across processes); it simply selects eligible rows, sorts them by
// delayedUntil, bumps their attemptCount, and returns a snapshot.
func (s *Store) ClaimBatch(ctx context.Context, kind string, batchSize int) ([]outboxstore.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var eligible []*outboxstore.Row
	for _, r := range s.rows {
		if r.Kind != kind || r.Status != outboxstore.StatusPending {
			continue
		}
		if r.DelayedUntil.After(now) {
			continue
		}
		if r.MaxAttempts > 0 && r.AttemptCount >= r.MaxAttempts {
			continue
		}
		eligible = append(eligible, r)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].DelayedUntil.Before(eligible[j].DelayedUntil) })
	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}

	out := make([]outboxstore.Row, 0, len(eligible))
	for _, r := range eligible {
		r.AttemptCount++
		out = append(out, *r)
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("outbox row not found: %s", id)
	}
	r.Status = outboxstore.StatusSent
	r.SentAt = time.Now()
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id string, lastError string, delayedUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("outbox row not found: %s", id)
	}
	r.LastError = lastError
	r.DelayedUntil = delayedUntil
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("outbox row not found: %s", id)
	}
	r.Status = outboxstore.StatusFailed
	r.LastError = lastError
	return nil
}

func (s *Store) CleanupSent(ctx context.Context, kind string, olderThan time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, r := range s.rows {
		if deleted >= int64(batchSize) {
			break
		}
		if r.Kind == kind && r.Status == outboxstore.StatusSent && r.SentAt.Before(olderThan) {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Close() error { return nil }
