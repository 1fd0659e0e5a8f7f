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

// Package envelope implements the Message codec: the entire externalized
// execution state of one workflow instance between steps, serialized as a
// compact JSON object with stable short keys for wire compatibility.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/workflowrt/engine/pkg/nodestate"
	"github.com/workflowrt/engine/pkg/position"
)

// Message is the entire externalized execution state of one workflow
// instance. The runtime recreates everything else from (Name, Version)
// plus the parsed definition.
type Message struct {
	Name     string
	Version  string
	States   map[position.Position]nodestate.State
	Position position.Position
}

// wire mirrors the spec's §6 wire shape exactly: {"n","v","p","s"}.
type wire struct {
	N string                   `json:"n"`
	V string                   `json:"v"`
	P string                   `json:"p"`
	S map[string]nodestate.State `json:"s,omitempty"`
}

// Encode serializes a Message to its compact JSON envelope form.
func Encode(m Message) ([]byte, error) {
	s := make(map[string]nodestate.State, len(m.States))
	for pos, st := range m.States {
		s[pos.String()] = st
	}
	w := wire{N: m.Name, V: m.Version, P: m.Position.String(), S: s}
	return json.Marshal(w)
}

// Decode parses a compact JSON envelope back into a Message.
func Decode(data []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("envelope: decode: %w", err)
	}
	states := make(map[position.Position]nodestate.State, len(w.S))
	for posStr, st := range w.S {
		states[position.Parse(posStr)] = st
	}
	return Message{
		Name:     w.N,
		Version:  w.V,
		States:   states,
		Position: position.Parse(w.P),
	}, nil
}

// New creates an empty Message at the root position for a fresh instance.
func New(name, version string) Message {
	return Message{
		Name:     name,
		Version:  version,
		States:   map[position.Position]nodestate.State{position.Root: nodestate.New()},
		Position: position.Root,
	}
}

// StateAt returns the NodeState recorded for pos, or a fresh default State
// if none has been recorded yet.
func (m Message) StateAt(pos position.Position) nodestate.State {
	if st, ok := m.States[pos]; ok {
		return st
	}
	return nodestate.New()
}

// WithState returns a copy of m with the state at pos replaced. Message
// values are treated as immutable snapshots; each driver step produces a
// new Message rather than mutating a shared one across goroutines.
func (m Message) WithState(pos position.Position, st nodestate.State) Message {
	out := Message{Name: m.Name, Version: m.Version, Position: pos}
	out.States = make(map[position.Position]nodestate.State, len(m.States)+1)
	for k, v := range m.States {
		out.States[k] = v
	}
	out.States[pos] = st
	return out
}
