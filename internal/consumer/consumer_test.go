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

package consumer_test

import (
	"context"
	"testing"
	"time"

	"github.com/workflowrt/engine/internal/bus"
	"github.com/workflowrt/engine/internal/consumer"
	"github.com/workflowrt/engine/internal/defstore"
	"github.com/workflowrt/engine/internal/driver"
	"github.com/workflowrt/engine/internal/expr"
	"github.com/workflowrt/engine/internal/outboxstore/memory"
	"github.com/workflowrt/engine/internal/scope"
	"github.com/workflowrt/engine/pkg/envelope"
	"github.com/workflowrt/engine/pkg/model"
)

type memDefBackend struct {
	docs map[string][]byte
}

func (b *memDefBackend) GetDefinition(ctx context.Context, name, version string) ([]byte, error) {
	return b.docs[name+"@"+version], nil
}

func (b *memDefBackend) PutDefinition(ctx context.Context, name, version string, definition []byte) error {
	b.docs[name+"@"+version] = definition
	return nil
}

type fixedScopes struct{}

func (fixedScopes) WorkflowScope(ctx context.Context, name, version string) (scope.Workflow, error) {
	return scope.Workflow{}, nil
}

type stubActivities struct{}

func (stubActivities) CallHTTP(ctx context.Context, n *model.Node, sc map[string]any) (any, error) {
	return map[string]any{"ok": true}, nil
}
func (stubActivities) Run(context.Context, *model.Node, map[string]any) (any, error) { return nil, nil }
func (stubActivities) Unsupported(context.Context, *model.Node) (any, error)          { return nil, nil }

func TestConsumerDrivesACompletedWorkflowToDone(t *testing.T) {
	const doc = `
do:
  - callIt:
      call: http
      with:
        method: GET
        endpoint: https://example.invalid/resource
`
	backend := &memDefBackend{docs: map[string][]byte{"greet@1": []byte(doc)}}
	defs := defstore.New(backend)
	d := driver.New(defs, expr.New(), stubActivities{}, fixedScopes{})

	in := bus.NewMemoryBus()
	out := bus.NewMemoryBus()
	waitStore := memory.New()
	retryStore := memory.New()

	c := consumer.New(d, in, out, nil, waitStore, retryStore, consumer.DefaultConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		_ = c.Run(ctx)
	}()

	msg := envelope.New("greet", "1")
	encoded, err := envelope.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := in.Publish(ctx, encoded); err != nil {
		t.Fatalf("publish: %v", err)
	}

	outDeliveries, err := out.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe out: %v", err)
	}

	select {
	case d := <-outDeliveries:
		next, err := envelope.Decode(d.Payload)
		if err != nil {
			t.Fatalf("decode continuation: %v", err)
		}
		if next.Name != "greet" {
			t.Fatalf("expected continuation for greet, got %s", next.Name)
		}

		// Feed the continuation back in; the activity already ran, so
		// this step should complete the workflow and emit nothing
		// further to out.
		reencoded, err := envelope.Encode(next)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if err := in.Publish(ctx, reencoded); err != nil {
			t.Fatalf("publish continuation: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first continuation")
	}

	select {
	case d := <-outDeliveries:
		t.Fatalf("did not expect a second continuation after completion, got %q", d.Payload)
	case <-time.After(200 * time.Millisecond):
		// No further output: the workflow completed and was dropped, as
		// driver.Done expects.
	}
}

func TestConsumerDeadLettersUnparseableEnvelope(t *testing.T) {
	backend := &memDefBackend{docs: map[string][]byte{}}
	defs := defstore.New(backend)
	d := driver.New(defs, expr.New(), stubActivities{}, fixedScopes{})

	in := bus.NewMemoryBus()
	out := bus.NewMemoryBus()
	deadLetter := bus.NewMemoryBus()
	retryStore := memory.New()

	c := consumer.New(d, in, out, deadLetter, memory.New(), retryStore, consumer.DefaultConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		_ = c.Run(ctx)
	}()

	if err := in.Publish(ctx, []byte("not a valid envelope")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	dl, err := deadLetter.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe dead-letter: %v", err)
	}

	select {
	case d := <-dl:
		if string(d.Payload) != "not a valid envelope" {
			t.Fatalf("expected raw payload forwarded, got %q", d.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dead-letter delivery")
	}
}
