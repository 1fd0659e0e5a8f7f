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

// Package scope assembles the JSON evaluation scope an expression runs
// against, by layering locally-bound variables over a task snapshot over
// the lexical parent chain over the workflow-wide scope.
package scope

import "github.com/workflowrt/engine/pkg/model"

// Workflow holds the process-wide layer shared by every node of one
// instance: {context, secrets, workflow, runtime}.
type Workflow struct {
	Context map[string]any
	Secrets map[string]any
	Workflow map[string]any
	Runtime  map[string]any
}

// TaskSnapshot is layer 2: the current node's own {task, input, output}.
type TaskSnapshot struct {
	Name       string
	Reference  string
	Definition map[string]any
	StartedAt  any
	Input      any
	Output     any
}

// Scope is a chain of layers, innermost first. Scope values are immutable;
// Child/WithLocals return a new Scope rather than mutating the receiver.
type Scope struct {
	locals map[string]any
	task   *TaskSnapshot
	parent *Scope
	wf     *Workflow
}

// Root builds the outermost Scope: just the workflow layer, no parent, no
// task snapshot, no local bindings. This is the scope the top-level Do
// node's children build on.
func Root(wf Workflow) *Scope {
	return &Scope{wf: &wf}
}

// Child returns a new Scope nesting this one as parent, annotated with a
// task snapshot for node n.
func (s *Scope) Child(n *model.Node, snapshot TaskSnapshot) *Scope {
	return &Scope{task: &snapshot, parent: s, wf: s.wf}
}

// WithLocals returns a new Scope with additional locally-bound variables
// layered innermost (e.g. a For loop's each/at bindings). Existing locals
// on the receiver remain visible but are shadowed by any colliding key.
func (s *Scope) WithLocals(locals map[string]any) *Scope {
	merged := make(map[string]any, len(s.locals)+len(locals))
	for k, v := range s.locals {
		merged[k] = v
	}
	for k, v := range locals {
		merged[k] = v
	}
	return &Scope{locals: merged, task: s.task, parent: s.parent, wf: s.wf}
}

// ToMap flattens the layer chain into one JSON object, inner-first-wins,
// for the expression evaluator to run against. No layer is mutated; the
// returned map is a fresh copy.
func (s *Scope) ToMap() map[string]any {
	out := map[string]any{}
	if s.wf != nil {
		out["context"] = s.wf.Context
		out["secrets"] = s.wf.Secrets
		out["workflow"] = s.wf.Workflow
		out["runtime"] = s.wf.Runtime
	}
	if s.parent != nil {
		for k, v := range s.parent.ToMap() {
			out[k] = v
		}
	}
	if s.task != nil {
		out["task"] = map[string]any{
			"name":       s.task.Name,
			"reference":  s.task.Reference,
			"definition": s.task.Definition,
			"startedAt":  s.task.StartedAt,
			"input":      s.task.Input,
			"output":     s.task.Output,
		}
		out["input"] = s.task.Input
		out["output"] = s.task.Output
	}
	for k, v := range s.locals {
		out[k] = v
	}
	return out
}
