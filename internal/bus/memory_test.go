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

package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/workflowrt/engine/internal/bus"
)

func TestMemoryBusPublishSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b := bus.NewMemoryBus()
	deliveries, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case d := <-deliveries:
		if string(d.Payload) != "hello" {
			t.Fatalf("expected payload %q, got %q", "hello", d.Payload)
		}
		if err := d.Ack(ctx); err != nil {
			t.Fatalf("ack: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBusNackRedelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b := bus.NewMemoryBus()
	deliveries, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, []byte("retry-me")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := <-deliveries
	if err := first.Nack(ctx); err != nil {
		t.Fatalf("nack: %v", err)
	}

	select {
	case second := <-deliveries:
		if string(second.Payload) != "retry-me" {
			t.Fatalf("expected redelivered payload %q, got %q", "retry-me", second.Payload)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for redelivery")
	}
}

func TestKafkaAndRabbitMQStubsFail(t *testing.T) {
	ctx := context.Background()

	k := bus.NewKafkaBus(bus.KafkaConfig{Brokers: []string{"localhost:9092"}})
	if err := k.Publish(ctx, []byte("x")); err == nil {
		t.Fatal("expected kafka publish to fail")
	}
	if _, err := k.Subscribe(ctx); err == nil {
		t.Fatal("expected kafka subscribe to fail")
	}

	r := bus.NewRabbitMQBus(bus.RabbitMQConfig{URL: "amqp://localhost"})
	if err := r.Publish(ctx, []byte("x")); err == nil {
		t.Fatal("expected rabbitmq publish to fail")
	}
	if _, err := r.Subscribe(ctx); err == nil {
		t.Fatal("expected rabbitmq subscribe to fail")
	}
}
