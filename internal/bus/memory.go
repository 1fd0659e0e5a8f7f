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

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed MemoryBus.
var ErrClosed = errors.New("bus: closed")

var _ Bus = (*MemoryBus)(nil)

// MemoryBus is an in-memory Bus for tests and single-process deployments:
// a mutex-guarded slice plus a buffered signal channel wakes a blocked
// Subscribe loop rather than spinning or polling.
type MemoryBus struct {
	mu       sync.Mutex
	messages [][]byte
	signal   chan struct{}

	closedMu sync.RWMutex
	closed   bool

	subOnce sync.Once
	subCh   chan Delivery
}

// NewMemoryBus creates an empty in-memory Bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		signal: make(chan struct{}, 1),
		subCh:  make(chan Delivery),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, payload []byte) error {
	b.closedMu.RLock()
	if b.closed {
		b.closedMu.RUnlock()
		return ErrClosed
	}
	b.closedMu.RUnlock()

	b.mu.Lock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.messages = append(b.messages, cp)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe starts (once) a goroutine draining the internal queue into the
// returned channel and returns it. Every call returns the same channel: a
// MemoryBus models one logical queue, not a fan-out topic.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	b.subOnce.Do(func() {
		go b.deliverLoop(ctx)
	})
	return b.subCh, nil
}

func (b *MemoryBus) deliverLoop(ctx context.Context) {
	defer close(b.subCh)
	for {
		b.closedMu.RLock()
		closed := b.closed
		b.closedMu.RUnlock()
		if closed {
			return
		}

		b.mu.Lock()
		if len(b.messages) == 0 {
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-b.signal:
				continue
			}
		}
		payload := b.messages[0]
		b.messages = b.messages[1:]
		b.mu.Unlock()

		delivery := Delivery{
			Payload: payload,
			Ack:     func(context.Context) error { return nil },
			Nack: func(ctx context.Context) error {
				// Redeliver at the back of the queue; an in-memory bus has
				// no dead-letter concept of its own, so a Nack just makes
				// the message available again for whoever consumes next.
				return b.Publish(ctx, payload)
			},
		}

		select {
		case <-ctx.Done():
			return
		case b.subCh <- delivery:
		}
	}
}

func (b *MemoryBus) Close() error {
	b.closedMu.Lock()
	defer b.closedMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.signal)
	return nil
}
