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

// Package bus declares the message bus contract the consumer reads from
// and the driver's Continue results publish back onto. §6 names three
// recognized `messaging.type` values (kafka, rabbitmq, in-memory); only
// in-memory is implemented here in full (memory.go), the other two are
// named stubs (kafka.go, rabbitmq.go) that fail with a COMMUNICATION
// error, since broker selection is a deployment concern outside this
// runtime's core contract.
package bus

import (
	"context"

	"github.com/workflowrt/engine/pkg/werror"
	"github.com/workflowrt/engine/pkg/position"
)

// Delivery is one inbound message handed to a consumer. Ack/Nack let the
// consumer control redelivery: Ack after the driver step's DB effect has
// committed (per §4.7's ack discipline), Nack (or simply not acking before
// the connection drops) to have the broker redeliver.
type Delivery struct {
	Payload []byte
	Ack     func(ctx context.Context) error
	Nack    func(ctx context.Context) error
}

// Bus is the message bus abstraction a consumer reads from and a driver's
// Continue result publishes onto. Payloads are opaque encoded envelopes
// (envelope.Encode output) — the bus itself is envelope-agnostic, the way
// a real broker would be.
type Bus interface {
	// Publish sends payload to the bus for a consumer to receive.
	Publish(ctx context.Context, payload []byte) error

	// Subscribe returns a channel of inbound deliveries. The channel is
	// closed when ctx is done or Close is called.
	Subscribe(ctx context.Context) (<-chan Delivery, error)

	Close() error
}

// errCommunication builds the stub brokers' uniform failure.
func errCommunication(broker, op string) error {
	return werror.New(werror.Communication, position.Root, broker+" broker not implemented").
		WithDetails(broker + "." + op + " requires a real broker client; only the in-memory bus is implemented")
}
