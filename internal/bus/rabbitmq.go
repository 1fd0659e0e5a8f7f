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

package bus

import "context"

// RabbitMQConfig names the connection options a real RabbitMQ-backed Bus
// would take. Fields are recognized but unused — see RabbitMQBus.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

// RabbitMQBus is the `messaging.type: rabbitmq` counterpart to KafkaBus:
// a named stub that fails every operation with a COMMUNICATION error.
type RabbitMQBus struct {
	cfg RabbitMQConfig
}

var _ Bus = (*RabbitMQBus)(nil)

// NewRabbitMQBus returns a RabbitMQBus that will fail every operation.
func NewRabbitMQBus(cfg RabbitMQConfig) *RabbitMQBus {
	return &RabbitMQBus{cfg: cfg}
}

func (b *RabbitMQBus) Publish(ctx context.Context, payload []byte) error {
	return errCommunication("rabbitmq", "publish")
}

func (b *RabbitMQBus) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	return nil, errCommunication("rabbitmq", "subscribe")
}

func (b *RabbitMQBus) Close() error {
	return nil
}
