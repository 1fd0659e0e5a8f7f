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

// KafkaConfig names the connection options a real Kafka-backed Bus would
// take. Fields are recognized but unused — see KafkaBus.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaBus is a named stub: `messaging.type: kafka` is a recognized
// configuration value, but wiring a real Kafka client is a deployment
// choice outside this runtime's core contract. Every method fails with a
// COMMUNICATION error rather than silently falling back to memory.
type KafkaBus struct {
	cfg KafkaConfig
}

var _ Bus = (*KafkaBus)(nil)

// NewKafkaBus returns a KafkaBus that will fail every operation; it exists
// so `messaging.type: kafka` resolves to a concrete Bus value instead of a
// config-time error, keeping that failure on the same path as a runtime
// broker outage.
func NewKafkaBus(cfg KafkaConfig) *KafkaBus {
	return &KafkaBus{cfg: cfg}
}

func (b *KafkaBus) Publish(ctx context.Context, payload []byte) error {
	return errCommunication("kafka", "publish")
}

func (b *KafkaBus) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	return nil, errCommunication("kafka", "subscribe")
}

func (b *KafkaBus) Close() error {
	return nil
}
