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

// Package consumer implements §4.7's bus-to-driver wiring: for each
// inbound delivery, parse its envelope, drive one step, and route the
// outcome to the output bus, an outbox table, or a dead-letter
// destination, acking the input only after the corresponding DB effect
// (if any) has committed.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/workflowrt/engine/internal/bus"
	"github.com/workflowrt/engine/internal/driver"
	wflog "github.com/workflowrt/engine/internal/log"
	"github.com/workflowrt/engine/internal/outbox"
	"github.com/workflowrt/engine/internal/outboxstore"
	"github.com/workflowrt/engine/pkg/envelope"
)

// Config holds the attempt ceilings newly enqueued outbox rows are
// created with. The wait and retry outboxes are configured independently
// since they represent different kinds of delayed continuation (a timer
// wakeup versus an activity failure the workflow author asked to retry).
type Config struct {
	WaitMaxAttempts  int
	RetryMaxAttempts int
}

// DefaultConfig mirrors outbox.DefaultConfigForKind's attempt ceilings.
func DefaultConfig() Config {
	return Config{WaitMaxAttempts: 3, RetryMaxAttempts: 5}
}

// Consumer drives Step for every delivery read from In, publishing
// continuations to Out, delayed continuations to WaitOutbox/RetryOutbox,
// and unparseable or faulted messages to DeadLetter.
type Consumer struct {
	Driver      *driver.Driver
	In          bus.Bus
	Out         bus.Bus
	DeadLetter  bus.Bus
	WaitOutbox  outboxstore.Store
	RetryOutbox outboxstore.Store
	Cfg         Config

	logger *slog.Logger
}

// New creates a Consumer. DeadLetter may be nil, in which case unparseable
// or faulted payloads are logged and dropped rather than forwarded. A nil
// logger falls back to slog.Default().
func New(d *driver.Driver, in, out, deadLetter bus.Bus, waitOutbox, retryOutbox outboxstore.Store, cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		Driver:      d,
		In:          in,
		Out:         out,
		DeadLetter:  deadLetter,
		WaitOutbox:  waitOutbox,
		RetryOutbox: retryOutbox,
		Cfg:         cfg,
		logger:      logger.With(slog.String("component", "consumer")),
	}
}

// Run subscribes to In and processes deliveries until ctx is done or the
// subscription channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.In.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d bus.Delivery) {
	msg, err := envelope.Decode(d.Payload)
	if err != nil {
		c.logger.Error("unparseable envelope, dead-lettering", slog.Any("error", err))
		c.deadLetter(ctx, d.Payload, "FAILED", err.Error())
		c.ack(ctx, d)
		return
	}

	result, err := c.Driver.Step(ctx, msg)
	if err != nil {
		// A processing failure distinct from a workflow-level Fault: the
		// driver itself could not resolve a definition, scope, or
		// position. Treated the same as step 4's "processing failure".
		c.logger.Error("driver step failed", slog.String(wflog.WorkflowKey, msg.Name), slog.Any("error", err))
		c.deadLetter(ctx, d.Payload, "FAILED", err.Error())
		c.ack(ctx, d)
		return
	}

	switch result.Kind {
	case driver.Continue:
		c.continueStep(ctx, d, result)
	case driver.Wait:
		c.scheduleContinuation(ctx, d, result, "wait", c.WaitOutbox, c.Cfg.WaitMaxAttempts)
	case driver.Retry:
		c.scheduleContinuation(ctx, d, result, "retry", c.RetryOutbox, c.Cfg.RetryMaxAttempts)
	case driver.Done:
		c.logger.Info("workflow completed", slog.String(wflog.WorkflowKey, msg.Name))
		c.ack(ctx, d)
	case driver.Fault:
		c.logger.Error("workflow faulted", slog.String(wflog.WorkflowKey, msg.Name), slog.Any("error", result.Err))
		c.deadLetter(ctx, d.Payload, "FAILED", result.Err.Error())
		c.ack(ctx, d)
	default:
		c.logger.Error("unrecognized driver result kind", slog.Int("kind", int(result.Kind)))
		c.ack(ctx, d)
	}
}

// continueStep publishes the next Message immediately. The input may be
// acked even if the outbound publish fails: the broker's own retry covers
// that hop for an immediate continuation, per §4.7.
func (c *Consumer) continueStep(ctx context.Context, d bus.Delivery, result driver.Result) {
	encoded, err := envelope.Encode(result.Message)
	if err != nil {
		c.logger.Error("failed to encode continuation", slog.Any("error", err))
		c.ack(ctx, d)
		return
	}
	if err := c.Out.Publish(ctx, encoded); err != nil {
		c.logger.Error("failed to publish continuation", slog.Any("error", err))
	}
	c.ack(ctx, d)
}

// scheduleContinuation inserts a delayed continuation row. The input is
// acked only once the row has been durably inserted, per §4.7's "MUST NOT
// ack until the DB effect has committed".
func (c *Consumer) scheduleContinuation(ctx context.Context, d bus.Delivery, result driver.Result, kind string, store outboxstore.Store, maxAttempts int) {
	encoded, err := envelope.Encode(result.Message)
	if err != nil {
		c.logger.Error("failed to encode delayed continuation", slog.Any("error", err))
		c.deadLetter(ctx, d.Payload, "FAILED", err.Error())
		c.ack(ctx, d)
		return
	}

	row := outbox.NewRow(kind, encoded, time.Now().Add(result.Delay), maxAttempts)
	if err := store.Enqueue(ctx, row); err != nil {
		c.logger.Error("failed to enqueue delayed continuation, not acking", slog.String("kind", kind), slog.Any("error", err))
		return
	}
	c.ack(ctx, d)
}

// deadLetter records a FAILED audit row in the retry outbox (so the row
// shows up alongside ordinary retry exhaustion for operator visibility)
// and forwards the raw payload to the dead-letter bus, if configured.
func (c *Consumer) deadLetter(ctx context.Context, payload []byte, status, lastError string) {
	if c.RetryOutbox != nil {
		row := outbox.NewRow("retry", payload, time.Now(), 0)
		row.Status = status
		row.LastError = lastError
		if err := c.RetryOutbox.Enqueue(ctx, row); err != nil {
			c.logger.Error("failed to record dead-letter audit row", slog.Any("error", err))
		}
	}
	if c.DeadLetter != nil {
		if err := c.DeadLetter.Publish(ctx, payload); err != nil {
			c.logger.Error("failed to publish to dead-letter bus", slog.Any("error", err))
		}
	}
}

func (c *Consumer) ack(ctx context.Context, d bus.Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(ctx); err != nil {
		c.logger.Error("failed to ack delivery", slog.Any("error", err))
	}
}
