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

// Package driver implements §4.4's one-step-per-message workflow driver: it
// resolves a Message's parsed tree, rehydrates an interp.Instance over the
// Message's carried NodeState, runs the instance forward to its next
// suspension point, and re-externalizes the result as a driver Result the
// consumer (internal/consumer) acts on. No state survives between Step
// calls beyond what is carried in the Message envelope itself.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/workflowrt/engine/internal/defstore"
	"github.com/workflowrt/engine/internal/interp"
	wflog "github.com/workflowrt/engine/internal/log"
	"github.com/workflowrt/engine/internal/scope"
	"github.com/workflowrt/engine/pkg/envelope"
	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/nodestate"
	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
)

// ScopeProvider resolves the workflow-wide scope layer {context, secrets,
// workflow, runtime} for a given (name, version). Secret material and
// runtime metadata are deployment-specific, so this is left pluggable
// rather than baked into the Driver the way the Node tree is.
type ScopeProvider interface {
	WorkflowScope(ctx context.Context, name, version string) (scope.Workflow, error)
}

// ResultKind classifies what a Step call produced for the consumer.
type ResultKind int

const (
	// Continue means the instance suspended at an activity or jumped to a
	// new position that should be redriven immediately; Message is the
	// next envelope to publish back onto the bus.
	Continue ResultKind = iota
	// Wait means a wait duration was computed; Message should be written
	// to the Wait outbox with DelayedUntil rather than published directly.
	Wait
	// Retry means a Try's retry policy scheduled a delayed continuation;
	// Message should be written to the Retry outbox with DelayedUntil.
	Retry
	// Done means the workflow instance reached COMPLETED; Output holds
	// its terminal value.
	Done
	// Fault means an error escaped every enclosing Try; the instance is
	// FAULTED and Err holds the unhandled workflow error. The consumer
	// persists this to the retry table as an audit-only FAILED row and
	// routes to dead-letter; it is never redriven.
	Fault
)

// Result is the externalized outcome of one Step call.
type Result struct {
	Kind    ResultKind
	Message envelope.Message
	Delay   time.Duration // set for Wait/Retry: the outbox row's delayedUntil is now + Delay
	Output  any
	Err     *werror.Error
}

// StepObserver receives one observation per completed Step call, for
// telemetry (internal/telemetry.Provider implements this). Kept as a small
// interface in this package, not the telemetry package, so Driver has no
// import-time dependency on any particular observability backend.
type StepObserver interface {
	ObserveStep(ctx context.Context, workflowName string, kind ResultKind, duration time.Duration, err error)
}

// Driver wires the static Node-tree cache, expression evaluator, and
// activity side-effect surface shared by every instance step.
type Driver struct {
	Defs   *defstore.Store
	Eval   interp.Evaluator
	Act    interp.Activities
	Scopes ScopeProvider

	// Observer is optional; a nil Observer disables step telemetry.
	Observer StepObserver

	// Logger is optional; a nil Logger falls back to slog.Default().
	Logger *slog.Logger
}

// New builds a Driver from its collaborators.
func New(defs *defstore.Store, eval interp.Evaluator, act interp.Activities, scopes ScopeProvider) *Driver {
	return &Driver{Defs: defs, Eval: eval, Act: act, Scopes: scopes}
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Step performs exactly one driver step over msg, per §4.4: resolve the
// tree, rehydrate the instance, run it forward from msg.Position until a
// non-Advance Outcome, and translate that Outcome into a Result.
func (d *Driver) Step(ctx context.Context, msg envelope.Message) (result Result, err error) {
	start := time.Now()
	defer func() {
		if d.Observer != nil {
			var stepErr error
			if err != nil {
				stepErr = err
			} else if result.Kind == Fault {
				stepErr = result.Err
			}
			d.Observer.ObserveStep(ctx, msg.Name, result.Kind, time.Since(start), stepErr)
		}
	}()

	tree, err := d.Defs.Get(ctx, msg.Name, msg.Version)
	if err != nil {
		return Result{}, fmt.Errorf("driver: resolve definition %s@%s: %w", msg.Name, msg.Version, err)
	}

	node, ok := tree.Lookup(msg.Position)
	if !ok {
		return Result{}, fmt.Errorf("driver: position %s not found in %s@%s", msg.Position, msg.Name, msg.Version)
	}

	stepLogger := wflog.WithStepContext(d.logger(), "", node.Name, msg.Position.String())
	stepLogger.Debug("driver step", slog.String(wflog.WorkflowKey, msg.Name))

	wf, err := d.Scopes.WorkflowScope(ctx, msg.Name, msg.Version)
	if err != nil {
		return Result{}, fmt.Errorf("driver: resolve workflow scope %s@%s: %w", msg.Name, msg.Version, err)
	}

	ins := interp.New(tree, d.Eval, d.Act, wf, statesFromEnvelope(msg.States))

	outcome := ins.Run(ctx, node)

	switch outcome.Kind {
	case interp.Suspend:
		return Result{Kind: Continue, Message: envelopeFrom(msg, ins, outcome.Next)}, nil
	case interp.WaitFor:
		return Result{Kind: Wait, Message: envelopeFrom(msg, ins, outcome.Next), Delay: outcome.Duration}, nil
	case interp.RetryFor:
		return Result{Kind: Retry, Message: envelopeFrom(msg, ins, outcome.Next), Delay: outcome.Duration}, nil
	case interp.Completed:
		return Result{Kind: Done, Output: outcome.Output}, nil
	case interp.Faulted:
		return Result{Kind: Fault, Err: outcome.Err}, nil
	default:
		return Result{}, fmt.Errorf("driver: unrecognized outcome kind %d", outcome.Kind)
	}
}

// statesFromEnvelope converts the envelope's Position-keyed state map into
// the string-keyed map interp.Instance operates on internally.
func statesFromEnvelope(in map[position.Position]nodestate.State) map[string]nodestate.State {
	out := make(map[string]nodestate.State, len(in))
	for pos, st := range in {
		out[pos.String()] = st
	}
	return out
}

// envelopeFrom builds the next Message to carry forward: the same
// (name, version), every state the instance has accumulated so far, and a
// position at next (the activity that just suspended, or the delayed
// continuation's target).
func envelopeFrom(msg envelope.Message, ins *interp.Instance, next *model.Node) envelope.Message {
	states := make(map[position.Position]nodestate.State, len(ins.States))
	for k, st := range ins.States {
		states[position.Parse(k)] = st
	}
	pos := msg.Position
	if next != nil {
		pos = next.Position
	}
	return envelope.Message{Name: msg.Name, Version: msg.Version, States: states, Position: pos}
}
