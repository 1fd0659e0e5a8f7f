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

// Package defstore is the definition store: a content-addressed cache of
// parsed workflow documents keyed by (name, version), consulted by the
// driver on cold messages. Parsing happens once per (name, version); every
// later Get for the same key returns the same *model.Tree.
package defstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/workflowrt/engine/pkg/model"
)

// Backend is the raw definition record storage the Store fronts: written by
// an operator's admin/CLI path, read here on a cache miss. Concrete
// backends (internal/outboxstore/{postgres,sqlite,memory}) carry the
// "definitions" table migration alongside their outbox row tables.
type Backend interface {
	GetDefinition(ctx context.Context, name, version string) ([]byte, error)
	PutDefinition(ctx context.Context, name, version string, definition []byte) error
}

type key struct{ name, version string }

// Store is the process-wide parsed-tree cache in front of a Backend. One
// Store is shared read-only across every consumer goroutine in a process.
type Store struct {
	backend Backend

	mu    sync.RWMutex
	trees map[key]*model.Tree
}

// New builds a Store fronting backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, trees: make(map[key]*model.Tree)}
}

// Get resolves the parsed Tree for (name, version): cache hit returns
// immediately, a miss fetches the raw definition from the backend, parses
// it once, and caches the result for subsequent callers.
func (s *Store) Get(ctx context.Context, name, version string) (*model.Tree, error) {
	k := key{name, version}

	s.mu.RLock()
	tree, ok := s.trees[k]
	s.mu.RUnlock()
	if ok {
		return tree, nil
	}

	raw, err := s.backend.GetDefinition(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("defstore: fetch %s@%s: %w", name, version, err)
	}

	tree, err = model.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("defstore: parse %s@%s: %w", name, version, err)
	}

	s.mu.Lock()
	if existing, ok := s.trees[k]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.trees[k] = tree
	s.mu.Unlock()
	return tree, nil
}

// Put validates definition by parsing it, then persists it to the backend
// and warms the cache. A document that fails to parse is rejected before
// ever reaching the backend.
func (s *Store) Put(ctx context.Context, name, version string, definition []byte) error {
	tree, err := model.ParseDocument(definition)
	if err != nil {
		return fmt.Errorf("defstore: rejecting invalid definition %s@%s: %w", name, version, err)
	}
	if err := s.backend.PutDefinition(ctx, name, version, definition); err != nil {
		return fmt.Errorf("defstore: store %s@%s: %w", name, version, err)
	}

	s.mu.Lock()
	s.trees[key{name, version}] = tree
	s.mu.Unlock()
	return nil
}
