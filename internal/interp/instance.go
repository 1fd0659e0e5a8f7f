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

// Package interp is the per-instance node interpreter: the lifecycle
// (shouldStart/start/execute/complete/then/continue) the driver invokes one
// node at a time while stepping a workflow instance forward.
package interp

import (
	"context"

	"github.com/workflowrt/engine/internal/scope"
	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/nodestate"
	"github.com/workflowrt/engine/pkg/position"
)

// Evaluator is the subset of internal/expr.Evaluator the interpreter needs.
// Declared as an interface here so interp does not force its own choice of
// expression engine on callers that might substitute a test double.
type Evaluator interface {
	Eval(ctx context.Context, pos position.Position, expression any, scope map[string]any) (any, error)
	EvalExpression(ctx context.Context, pos position.Position, program string, scope map[string]any) (any, error)
	EvalBoolean(ctx context.Context, pos position.Position, program string, scope map[string]any) (bool, error)
	EvalList(ctx context.Context, pos position.Position, program string, scope map[string]any) ([]any, error)
	EvalObject(ctx context.Context, pos position.Position, program string, scope map[string]any) (map[string]any, error)
}

// Activities is the pluggable side-effect surface: everything an activity
// node needs to perform its external contract. The interpreter itself
// stays free of HTTP/subprocess/broker details.
type Activities interface {
	CallHTTP(ctx context.Context, n *model.Node, scope map[string]any) (any, error)
	Run(ctx context.Context, n *model.Node, scope map[string]any) (any, error)
	Unsupported(ctx context.Context, n *model.Node) (any, error) // Emit/Listen/CallGRPC/CallOpenAPI/CallAsync/CallFunction
}

// Instance is the live, per-step interpreter context: the parsed tree, the
// mutable per-position state, and the workflow-wide scope layer. An
// Instance holds no information across driver steps beyond what is
// rehydrated from the envelope into States; see pkg/envelope.
type Instance struct {
	Tree   *model.Tree
	Eval   Evaluator
	Act    Activities
	WF     scope.Workflow
	States map[string]nodestate.State
}

// New builds an Instance ready to step, from a rehydrated state map keyed
// by JSON-Pointer position string (as carried in the Message envelope).
func New(tree *model.Tree, ev Evaluator, act Activities, wf scope.Workflow, states map[string]nodestate.State) *Instance {
	if states == nil {
		states = map[string]nodestate.State{}
	}
	return &Instance{Tree: tree, Eval: ev, Act: act, WF: wf, States: states}
}

// StateAt returns the state recorded for n, creating a fresh default entry
// if none exists yet.
func (ins *Instance) StateAt(n *model.Node) nodestate.State {
	key := n.Position.String()
	if st, ok := ins.States[key]; ok {
		return st
	}
	st := nodestate.New()
	ins.States[key] = st
	return st
}

// SetState overwrites the recorded state for n.
func (ins *Instance) SetState(n *model.Node, st nodestate.State) {
	ins.States[n.Position.String()] = st
}

// ResetState restores n's state to its defaults, used by shouldStart on a
// false gate and by Try when unwinding a caught subtree.
func (ins *Instance) ResetState(n *model.Node) {
	st := nodestate.New()
	ins.States[n.Position.String()] = st
}

// ScopeFor builds the layered evaluation Scope visible at node n: its own
// task snapshot over every ancestor's task snapshot over the workflow
// layer, with each ancestor's locally bound variables (a For's each/at, a
// Try's catch binding) layered in so descendants of the binding node can
// see them too.
func (ins *Instance) ScopeFor(n *model.Node) *scope.Scope {
	chain := ancestorChain(n)
	sc := scope.Root(ins.WF)
	for _, anc := range chain {
		st := ins.StateAt(anc)
		sc = sc.Child(anc, scope.TaskSnapshot{
			Name:       anc.Name,
			Reference:  anc.Position.String(),
			Definition: anc.RawTask,
			StartedAt:  st.StartedAt,
			Input:      st.RawInput,
			Output:     st.RawOutput,
		})
		if len(st.Variables) > 0 {
			sc = sc.WithLocals(st.Variables)
		}
	}
	return sc
}

// ancestorChain returns n's ancestors from the root's Do node down to and
// including n itself, in execution order.
func ancestorChain(n *model.Node) []*model.Node {
	var rev []*model.Node
	for cur := n; cur != nil; cur = cur.Parent {
		rev = append(rev, cur)
	}
	out := make([]*model.Node, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}
