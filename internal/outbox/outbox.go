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

// Package outbox implements the batch/backoff continuation processor
// described in §4.6: a ticker-driven loop that claims due rows from an
// outboxstore.Store, redelivers each via a caller-supplied send function,
// and reschedules or gives up on failure. One Processor serves one row
// kind ("wait" or "retry"); a deployment runs one of each.
package outbox

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	wflog "github.com/workflowrt/engine/internal/log"
	"github.com/workflowrt/engine/internal/outboxstore"
	"github.com/workflowrt/engine/pkg/envelope"
)

// SendFunc redelivers one row's decoded envelope. A nil error marks the row
// SENT; a non-nil error reschedules it (MarkRetry) or gives up (MarkFailed)
// depending on remaining attempts.
type SendFunc func(ctx context.Context, msg envelope.Message) error

// Config mirrors §4.6's `wait.outbox`/`retry.outbox`/`*.cleanup` option
// groups. Every field has a spec-mandated default via DefaultConfig.
type Config struct {
	// Every is the polling interval between batch-claim attempts.
	Every time.Duration
	// BatchSize bounds how many rows one claim selects.
	BatchSize int
	// MaxAttempts is the attempt ceiling a row is created with; rows whose
	// attemptCount reaches this are marked FAILED rather than rescheduled.
	// The Processor checks a failed send against the row's own MaxAttempts;
	// callers building rows with NewRow use this field as that value.
	MaxAttempts int
	// BackoffInitial is the delay before the first retry.
	BackoffInitial time.Duration
	// BackoffMultiplier scales the delay on each subsequent attempt.
	BackoffMultiplier float64
	// BackoffJitter is a fraction (0..1) of the computed delay randomized
	// in either direction, so many rows failing together don't all wake
	// at the same instant.
	BackoffJitter float64
	// RatePerSecond throttles how fast claimed rows are handed to send,
	// so a large backlog doesn't overwhelm whatever send calls into.
	RatePerSecond float64

	// CleanupEvery is the polling interval between cleanup sweeps.
	CleanupEvery time.Duration
	// CleanupAfter is the retention window: SENT rows older than this are
	// deleted.
	CleanupAfter time.Duration
	// CleanupBatchSize bounds how many rows one cleanup sweep deletes.
	CleanupBatchSize int
}

// DefaultConfig returns §4.6's documented defaults: batchSize=100,
// maxAttempts=3 (5 for retry kinds, see DefaultConfigForKind),
// initialDelay=2s, every=5s, retention after=7d.
func DefaultConfig() Config {
	return Config{
		Every:             5 * time.Second,
		BatchSize:         100,
		MaxAttempts:       3,
		BackoffInitial:    2 * time.Second,
		BackoffMultiplier: 2.0,
		BackoffJitter:     0.1,
		RatePerSecond:     50,
		CleanupEvery:      time.Hour,
		CleanupAfter:      7 * 24 * time.Hour,
		CleanupBatchSize:  500,
	}
}

// DefaultConfigForKind applies the one difference the spec draws between
// wait and retry outboxes: retry continuations get a higher attempt
// ceiling since they represent activity failures the workflow author
// explicitly asked to retry, not one-shot timer wakeups.
func DefaultConfigForKind(kind string) Config {
	cfg := DefaultConfig()
	if kind == "retry" {
		cfg.MaxAttempts = 5
	}
	return cfg
}

// NewRow builds a PENDING row ready for outboxstore.Store.Enqueue, assigning
// a time-ordered UUIDv7 ID (ClaimBatch's ORDER BY delayedUntil is still the
// only ordering guarantee actually relied on).
func NewRow(kind string, msg []byte, delayedUntil time.Time, maxAttempts int) outboxstore.Row {
	return outboxstore.Row{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Kind:         kind,
		Message:      msg,
		Status:       outboxstore.StatusPending,
		MaxAttempts:  maxAttempts,
		DelayedUntil: delayedUntil,
		CreatedAt:    time.Now(),
	}
}

// BatchObserver receives one observation per claimed batch, for telemetry
// (internal/telemetry.Provider implements this). A nil Observer disables
// batch telemetry.
type BatchObserver interface {
	ObserveBatch(ctx context.Context, kind string, size int)
}

// Processor drives one outboxstore.Store's rows of one Kind through
// send, on the schedule described by Config.
type Processor struct {
	store outboxstore.Store
	kind  string
	send  SendFunc
	cfg   Config

	limiter  *rate.Limiter
	logger   *slog.Logger
	Observer BatchObserver

	mu             sync.Mutex
	claimRunning   bool
	cleanupRunning bool
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// New creates a Processor for rows of the given kind ("wait" or "retry").
// A nil logger falls back to slog.Default().
func New(store outboxstore.Store, kind string, send SendFunc, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:   store,
		kind:    kind,
		send:    send,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  logger.With(slog.String("component", "outbox"), slog.String("kind", kind)),
	}
}

// Start launches the claim loop and the cleanup loop as background
// goroutines, each on its own ticker. Call Stop to shut both down.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{}, 2)
	p.mu.Unlock()

	go p.runClaimLoop(ctx)
	go p.runCleanupLoop(ctx)
}

// Stop signals both loops to exit and waits for them.
func (p *Processor) Stop() {
	p.mu.Lock()
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
	<-doneCh
}

func (p *Processor) runClaimLoop(ctx context.Context) {
	defer func() { p.doneCh <- struct{}{} }()

	ticker := time.NewTicker(p.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			// Skip this tick entirely if the previous cycle is still
			// running, per §4.6: a slow DB must not pile up overlapping
			// claim cycles.
			p.mu.Lock()
			if p.claimRunning {
				p.mu.Unlock()
				continue
			}
			p.claimRunning = true
			p.mu.Unlock()

			p.drainDueBatches(ctx)

			p.mu.Lock()
			p.claimRunning = false
			p.mu.Unlock()
		}
	}
}

// drainDueBatches repeats batch claim+dispatch until a batch comes back
// empty three times in a row, the livelock guard that keeps a
// continuously-repopulated table from looping this cycle forever.
func (p *Processor) drainDueBatches(ctx context.Context) {
	const emptyLimit = 3
	empty := 0
	for empty < emptyLimit {
		rows, err := p.store.ClaimBatch(ctx, p.kind, p.cfg.BatchSize)
		if err != nil {
			p.logger.Error("claim batch failed", slog.Any("error", err))
			return
		}
		if len(rows) == 0 {
			empty++
			continue
		}
		empty = 0
		if p.Observer != nil {
			p.Observer.ObserveBatch(ctx, p.kind, len(rows))
		}
		for _, row := range rows {
			p.dispatch(ctx, row)
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, row outboxstore.Row) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	msg, err := envelope.Decode(row.Message)
	if err != nil {
		// Undecodable rows can never succeed; fail them outright rather
		// than retry-looping on a permanent error.
		p.logger.Error("undecodable outbox row, failing", slog.String("row_id", row.ID), slog.Any("error", err))
		if merr := p.store.MarkFailed(ctx, row.ID, err.Error()); merr != nil {
			p.logger.Error("failed to mark undecodable row failed", slog.String("row_id", row.ID), slog.Any("error", merr))
		}
		return
	}

	sendErr := p.send(ctx, msg)
	if sendErr == nil {
		if err := p.store.MarkSent(ctx, row.ID); err != nil {
			p.logger.Error("failed to mark row sent", slog.String("row_id", row.ID), slog.Any("error", err))
		}
		return
	}

	if row.MaxAttempts > 0 && row.AttemptCount >= row.MaxAttempts {
		p.logger.Warn("row exhausted attempts, giving up",
			slog.String("row_id", row.ID),
			slog.String(wflog.WorkflowKey, msg.Name),
			slog.Int("attempts", row.AttemptCount))
		if err := p.store.MarkFailed(ctx, row.ID, sendErr.Error()); err != nil {
			p.logger.Error("failed to mark row failed", slog.String("row_id", row.ID), slog.Any("error", err))
		}
		return
	}

	delay := p.backoff(row.AttemptCount)
	p.logger.Info("send failed, rescheduling", slog.String("row_id", row.ID), slog.Int("attempt", row.AttemptCount), slog.Duration("delay", delay))
	if err := p.store.MarkRetry(ctx, row.ID, sendErr.Error(), time.Now().Add(delay)); err != nil {
		p.logger.Error("failed to reschedule row", slog.String("row_id", row.ID), slog.Any("error", err))
	}
}

// backoff computes delay * multiplier^(attempt-1) ± jitter%, per §4.6.4.
func (p *Processor) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.cfg.BackoffInitial)
	for i := 1; i < attempt; i++ {
		base *= p.cfg.BackoffMultiplier
	}
	if p.cfg.BackoffJitter > 0 {
		spread := base * p.cfg.BackoffJitter
		base += (rand.Float64()*2 - 1) * spread
	}
	const floor = 100 * time.Millisecond
	if base < float64(floor) {
		base = float64(floor)
	}
	return time.Duration(base)
}

func (p *Processor) runCleanupLoop(ctx context.Context) {
	defer func() { p.doneCh <- struct{}{} }()

	ticker := time.NewTicker(p.cfg.CleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.cleanupRunning {
				p.mu.Unlock()
				continue
			}
			p.cleanupRunning = true
			p.mu.Unlock()

			p.runCleanupOnce(ctx)

			p.mu.Lock()
			p.cleanupRunning = false
			p.mu.Unlock()
		}
	}
}

func (p *Processor) runCleanupOnce(ctx context.Context) {
	const emptyLimit = 3
	empty := 0
	cutoff := time.Now().Add(-p.cfg.CleanupAfter)
	for empty < emptyLimit {
		n, err := p.store.CleanupSent(ctx, p.kind, cutoff, p.cfg.CleanupBatchSize)
		if err != nil {
			p.logger.Error("cleanup batch failed", slog.Any("error", err))
			return
		}
		if n == 0 {
			empty++
			continue
		}
		empty = 0
		p.logger.Debug("cleaned up sent rows", slog.Int64("count", n))
	}
}
