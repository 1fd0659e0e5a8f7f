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

package interp

import (
	"context"

	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/nodestate"
	"github.com/workflowrt/engine/pkg/werror"
)

// continueDo implements Do.continue(): advance childIndex; if beyond the
// last child, call complete() so the Do node's own output/export filters
// still apply; otherwise hand control to the next child. The very first
// child receives the do-block's own transformed rawInput; every later
// child receives the previous child's rawOutput (the running accumulator
// across the do-block, per the spec's set-chain-accumulation scenario).
func (ins *Instance) continueDo(ctx context.Context, n *model.Node) Outcome {
	st := ins.StateAt(n)
	next := st.ChildIndex + 1
	if next >= len(n.Children) {
		return ins.complete(ctx, n)
	}
	carried := st.RawInput
	if st.ChildIndex != nodestate.NoChild {
		carried = st.RawOutput
	}
	st.ChildIndex = next
	ins.SetState(n, st)

	child := n.Children[next]
	cst := ins.StateAt(child)
	cst.RawInput = carried
	ins.SetState(child, cst)
	return Outcome{Kind: Advance, Next: child}
}

// continueFor implements For.continue(): evaluate for.in once (memoized in
// the For node's own Context field), maintain forIndex, bind {each, at}
// locals, optionally guard with while, and hand control to the do child.
func (ins *Instance) continueFor(ctx context.Context, n *model.Node) Outcome {
	st := ins.StateAt(n)
	sc := ins.ScopeFor(n).ToMap()

	var list []any
	if cached, ok := st.Context["__for_list"]; ok {
		l, _ := cached.([]any)
		list = l
	} else {
		l, err := ins.Eval.EvalList(ctx, n.Position, n.For.In, sc)
		if err != nil {
			return ins.fault(n, err)
		}
		list = l
		if st.Context == nil {
			st.Context = map[string]any{}
		}
		st.Context["__for_list"] = list
		ins.SetState(n, st)
	}

	firstIteration := st.ForIndex == nodestate.NoFor
	idx := st.ForIndex + 1
	if idx >= len(list) {
		st.ForIndex = nodestate.NoFor
		st.Context = nil
		ins.SetState(n, st)
		return ins.complete(ctx, n)
	}

	locals := map[string]any{n.For.Each: list[idx], n.For.At: idx}
	if n.For.While != "" {
		loopScope := ins.ScopeFor(n).WithLocals(locals).ToMap()
		ok, err := ins.Eval.EvalBoolean(ctx, n.Position, n.For.While, loopScope)
		if err != nil {
			return ins.fault(n, err)
		}
		if !ok {
			st.ForIndex = nodestate.NoFor
			st.Context = nil
			ins.SetState(n, st)
			return ins.complete(ctx, n)
		}
	}

	st.ForIndex = idx
	ins.SetState(n, st)

	child := n.ForChild()
	if child == nil {
		return ins.fault(n, werror.New(werror.Configuration, n.Position, "for task has no do block"))
	}
	carried := st.RawInput
	if !firstIteration {
		carried = st.RawOutput
	}
	cst := ins.StateAt(child)
	cst.RawInput = carried
	if cst.Variables == nil {
		cst.Variables = map[string]any{}
	}
	for k, v := range locals {
		cst.Variables[k] = v
	}
	ins.SetState(child, cst)
	return Outcome{Kind: Advance, Next: child}
}

// continueTry implements Try.continue(): delegate straight to the try/do
// child. Exception handling is driven by the error's propagation through
// fault(); see HandleFault in catch.go for the nearest-catching-Try search
// that Instance.Run performs when an Outcome is Faulted.
func (ins *Instance) continueTry(ctx context.Context, n *model.Node) Outcome {
	child := n.TryChild()
	if child == nil {
		return ins.fault(n, werror.New(werror.Configuration, n.Position, "try task has no try/do block"))
	}
	cst := ins.StateAt(child)
	cst.RawInput = ins.StateAt(n).RawInput
	ins.SetState(child, cst)
	return Outcome{Kind: Advance, Next: child}
}
