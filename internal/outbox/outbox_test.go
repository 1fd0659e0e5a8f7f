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

package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/workflowrt/engine/internal/outboxstore/memory"
	"github.com/workflowrt/engine/pkg/envelope"
)

func TestDrainDueBatchesMarksSentOnSuccess(t *testing.T) {
	store := memory.New()
	msg := envelope.New("greet", "1")
	encoded, err := envelope.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	row := NewRow("wait", encoded, time.Now().Add(-time.Second), 3)
	if err := store.Enqueue(context.Background(), row); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var sent int
	var mu sync.Mutex
	p := New(store, "wait", func(ctx context.Context, m envelope.Message) error {
		mu.Lock()
		defer mu.Unlock()
		sent++
		return nil
	}, DefaultConfigForKind("wait"), nil)

	p.drainDueBatches(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if sent != 1 {
		t.Fatalf("expected send to be called once, got %d", sent)
	}

	claimed, err := store.ClaimBatch(context.Background(), "wait", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimable rows after success, got %d", len(claimed))
	}
}

func TestDrainDueBatchesReschedulesOnFailure(t *testing.T) {
	store := memory.New()
	msg := envelope.New("greet", "1")
	encoded, err := envelope.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	row := NewRow("retry", encoded, time.Now().Add(-time.Second), 3)
	if err := store.Enqueue(context.Background(), row); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := New(store, "retry", func(ctx context.Context, m envelope.Message) error {
		return errors.New("downstream unavailable")
	}, DefaultConfigForKind("retry"), nil)

	p.drainDueBatches(context.Background())

	// Row's delayedUntil was just pushed into the future; it must not be
	// immediately claimable again.
	claimed, err := store.ClaimBatch(context.Background(), "retry", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected rescheduled row to not be immediately claimable, got %d", len(claimed))
	}
}

func TestDrainDueBatchesFailsRowAfterMaxAttempts(t *testing.T) {
	store := memory.New()
	msg := envelope.New("greet", "1")
	encoded, err := envelope.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// MaxAttempts of 1: ClaimBatch's own bump to AttemptCount=1 means the
	// very first dispatch already sees AttemptCount >= MaxAttempts.
	row := NewRow("retry", encoded, time.Now().Add(-time.Second), 1)
	if err := store.Enqueue(context.Background(), row); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := New(store, "retry", func(ctx context.Context, m envelope.Message) error {
		return errors.New("permanent failure")
	}, DefaultConfigForKind("retry"), nil)

	p.drainDueBatches(context.Background())

	// A FAILED row with attemptCount == maxAttempts should never be
	// reclaimed: ClaimBatch's WHERE clause excludes it going forward.
	claimed, err := store.ClaimBatch(context.Background(), "retry", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected exhausted row to be excluded from future claims, got %d", len(claimed))
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	p := New(nil, "retry", nil, Config{
		BackoffInitial:    time.Second,
		BackoffMultiplier: 2.0,
		BackoffJitter:     0,
	}, nil)

	d1 := p.backoff(1)
	d2 := p.backoff(2)
	d3 := p.backoff(3)

	if d1 != time.Second {
		t.Fatalf("expected first backoff to equal initial delay, got %v", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("expected second backoff to double, got %v", d2)
	}
	if d3 != 4*time.Second {
		t.Fatalf("expected third backoff to quadruple, got %v", d3)
	}
}
