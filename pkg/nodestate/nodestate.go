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

// Package nodestate holds the per-instance, per-position mutable execution
// record the driver rehydrates and persists between steps.
package nodestate

import (
	"encoding/json"
	"time"
)

// Default sentinel values. ChildIndex and ForIndex use -1 ("not started
// iterating") rather than Go's zero value so that index 0 is a meaningful,
// distinct state from "not yet begun".
const (
	NoChild = -1
	NoFor   = -1
)

// State is the per-position mutable execution record. The zero value is
// not directly usable; use New to get the correct defaults.
type State struct {
	WorkflowID   string
	StartedAt    *time.Time
	RawInput     any
	RawOutput    any
	ChildIndex   int
	AttemptIndex int
	ForIndex     int
	Variables    map[string]any
	Context      map[string]any
}

// New returns a State with the spec's documented defaults.
func New() State {
	return State{
		ChildIndex: NoChild,
		ForIndex:   NoFor,
	}
}

// Reset restores a State to its initial defaults in place, clearing raw
// input/output, loop/child progress, and locally bound variables.
func (s *State) Reset() {
	*s = New()
}

// wire is the compact JSON envelope shape with the spec-mandated short
// keys. Child/Retry/For are pointers so the default value can be omitted
// from the wire form without colliding with Go's zero-value omitempty
// semantics (the defaults are -1/0/-1, not the Go zero value for child/for).
type wire struct {
	ID    string         `json:"id,omitempty"`
	At    *time.Time     `json:"at,omitempty"`
	In    any            `json:"in,omitempty"`
	Out   any            `json:"out,omitempty"`
	Child *int           `json:"child,omitempty"`
	Retry *int           `json:"retry,omitempty"`
	For   *int           `json:"for,omitempty"`
	Var   map[string]any `json:"var,omitempty"`
	Ctx   map[string]any `json:"ctx,omitempty"`
}

// MarshalJSON encodes the state using the stable short keys, omitting any
// field still at its default.
func (s State) MarshalJSON() ([]byte, error) {
	w := wire{
		ID:  s.WorkflowID,
		At:  s.StartedAt,
		In:  s.RawInput,
		Out: s.RawOutput,
		Var: nonEmpty(s.Variables),
		Ctx: nonEmpty(s.Context),
	}
	if s.ChildIndex != NoChild {
		v := s.ChildIndex
		w.Child = &v
	}
	if s.AttemptIndex != 0 {
		v := s.AttemptIndex
		w.Retry = &v
	}
	if s.ForIndex != NoFor {
		v := s.ForIndex
		w.For = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the compact wire form, applying defaults for any
// short key that was absent.
func (s *State) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = New()
	s.WorkflowID = w.ID
	s.StartedAt = w.At
	s.RawInput = w.In
	s.RawOutput = w.Out
	if w.Child != nil {
		s.ChildIndex = *w.Child
	}
	if w.Retry != nil {
		s.AttemptIndex = *w.Retry
	}
	if w.For != nil {
		s.ForIndex = *w.For
	}
	if w.Var != nil {
		s.Variables = w.Var
	}
	if w.Ctx != nil {
		s.Context = w.Ctx
	}
	return nil
}

func nonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}
