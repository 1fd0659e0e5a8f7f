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
	"math"
	"math/rand"
	"time"

	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
)

// OutcomeKind classifies what a Step call produced.
type OutcomeKind int

const (
	// Advance means the driver should loop again at Outcome.Next.
	Advance OutcomeKind = iota
	// Suspend means an activity's execute() ran; the driver emits a new
	// Message pointing at Outcome.Next (whose rawOutput is now set) and
	// stops its control-flow loop for this step.
	Suspend
	// WaitFor means a wait duration was computed; the driver schedules a
	// Wait-outbox row instead of requeuing immediately.
	WaitFor
	// RetryFor means a Try's retry policy scheduled a delayed retry; the
	// driver emits a Retry-outbox row.
	RetryFor
	// Completed means Root's continue() returned terminal output.
	Completed
	// Faulted means an error escaped every enclosing Try.
	Faulted
)

// Outcome is the result of one Step call.
type Outcome struct {
	Kind     OutcomeKind
	Next     *model.Node
	Duration time.Duration
	Output   any
	Err      *werror.Error
}

// Step advances the instance by exactly one node: either completing an
// activity that has already produced rawOutput, or running
// shouldStart/execute on a fresh node. The driver calls Step repeatedly
// (looping on Advance) until it gets back anything else.
func (ins *Instance) Step(ctx context.Context, n *model.Node) Outcome {
	st := ins.StateAt(n)
	if n.IsActivity() && st.RawOutput != nil {
		return ins.completeAndContinue(ctx, n)
	}
	return ins.shouldStartAndExecute(ctx, n)
}

func (ins *Instance) shouldStartAndExecute(ctx context.Context, n *model.Node) Outcome {
	ok, err := ins.shouldStart(ctx, n)
	if err != nil {
		return ins.fault(n, err)
	}
	if !ok {
		return ins.then(ctx, n, model.ThenContinue, ins.StateAt(n).RawOutput)
	}
	ins.start(ctx, n)
	return ins.execute(ctx, n)
}

// shouldStart computes transformed input, validates input.schema (stubbed
// as a no-op placeholder for a JSON Schema validator), and evaluates `.if`.
// On a false gate the node's state is reset and the caller is told to skip
// straight to the next sibling (ThenContinue), leaving the rest of the
// enclosing Do/For block to run.
func (ins *Instance) shouldStart(ctx context.Context, n *model.Node) (bool, error) {
	sc := ins.ScopeFor(n.Parent).ToMap()
	st := ins.StateAt(n)

	transformed := st.RawInput
	if n.Input != nil && n.Input.From != "" {
		v, err := ins.Eval.EvalExpression(ctx, n.Position, n.Input.From, sc)
		if err != nil {
			return false, err
		}
		transformed = v
	}

	if n.If != "" {
		ok, err := ins.Eval.EvalBoolean(ctx, n.Position, n.If, sc)
		if err != nil {
			return false, err
		}
		if !ok {
			ins.ResetState(n)
			return false, nil
		}
	}

	st.RawInput = transformed
	ins.SetState(n, st)
	return true, nil
}

// start stamps startedAt.
func (ins *Instance) start(ctx context.Context, n *model.Node) {
	st := ins.StateAt(n)
	now := time.Now()
	st.StartedAt = &now
	ins.SetState(n, st)
}

// execute performs node-kind-specific semantics, dispatching by Kind. Each
// supported kind has its own case; any other kind runs as an activity
// through Act.Unsupported.
func (ins *Instance) execute(ctx context.Context, n *model.Node) Outcome {
	switch n.Kind {
	case model.Set:
		return ins.executeSet(ctx, n)
	case model.Raise:
		return ins.executeRaise(ctx, n)
	case model.Wait:
		return ins.executeWait(ctx, n)
	case model.Switch:
		return ins.executeSwitch(ctx, n)
	case model.Do, model.Root:
		return ins.continueDo(ctx, n)
	case model.For:
		return ins.continueFor(ctx, n)
	case model.Try:
		return ins.continueTry(ctx, n)
	case model.Fork:
		return ins.executeFork(ctx, n)
	case model.CallHTTP:
		return ins.executeActivity(ctx, n, ins.Act.CallHTTP)
	case model.Run:
		return ins.executeActivity(ctx, n, ins.Act.Run)
	default:
		return ins.executeActivity(ctx, n, func(ctx context.Context, n *model.Node, sc map[string]any) (any, error) {
			return ins.Act.Unsupported(ctx, n)
		})
	}
}

// executeActivity runs an activity's external side effect, sets rawOutput,
// and returns Suspend so the driver emits a new Message for n rather than
// continuing the control-flow loop inline.
func (ins *Instance) executeActivity(ctx context.Context, n *model.Node, call func(context.Context, *model.Node, map[string]any) (any, error)) Outcome {
	sc := ins.ScopeFor(n).ToMap()
	out, err := call(ctx, n, sc)
	if err != nil {
		return ins.fault(n, werror.From(err, n.Position))
	}
	st := ins.StateAt(n)
	st.RawOutput = out
	ins.SetState(n, st)
	return Outcome{Kind: Suspend, Next: n}
}

func (ins *Instance) executeSet(ctx context.Context, n *model.Node) Outcome {
	sc := ins.ScopeFor(n).ToMap()
	v, err := ins.Eval.Eval(ctx, n.Position, n.Set, sc)
	if err != nil {
		return ins.fault(n, werror.From(err, n.Position))
	}
	st := ins.StateAt(n)
	st.RawOutput = v
	ins.SetState(n, st)
	return ins.complete(ctx, n)
}

func (ins *Instance) executeRaise(ctx context.Context, n *model.Node) Outcome {
	sc := ins.ScopeFor(n).ToMap()
	spec := n.Raise
	title, _ := ins.Eval.Eval(ctx, n.Position, spec.ErrorTitle, sc)
	titleStr, _ := title.(string)
	if titleStr == "" {
		titleStr = spec.ErrorTitle
	}
	we := werror.New(werror.Kind(resolveErrType(spec.ErrorType)), n.Position, titleStr)
	if spec.ErrorStatus != 0 {
		we.Status = spec.ErrorStatus
	}
	if spec.ErrorDetail != "" {
		we.Details = spec.ErrorDetail
	}
	return ins.fault(n, we)
}

// resolveErrType maps a raise.error.type URI/keyword onto a werror.Kind.
// Any type string recognized as one of the eight taxonomy kinds maps
// directly; anything else is carried as RUNTIME, and the original type
// string is not kept on the error.
func resolveErrType(t string) string {
	switch werror.Kind(t) {
	case werror.Configuration, werror.Validation, werror.Expression,
		werror.Authentication, werror.Authorization, werror.Timeout,
		werror.Communication, werror.Runtime:
		return t
	default:
		return string(werror.Runtime)
	}
}

func (ins *Instance) executeWait(ctx context.Context, n *model.Node) Outcome {
	sc := ins.ScopeFor(n).ToMap()
	d, err := parseDuration(ctx, ins.Eval, n, n.Wait.Duration, sc)
	if err != nil {
		return ins.fault(n, werror.From(err, n.Position))
	}
	return Outcome{Kind: WaitFor, Next: n, Duration: d}
}

func (ins *Instance) executeSwitch(ctx context.Context, n *model.Node) Outcome {
	sc := ins.ScopeFor(n).ToMap()
	st := ins.StateAt(n)
	st.RawOutput = st.RawInput
	ins.SetState(n, st)

	var chosenThen string
	matched := false
	for _, c := range n.Switch {
		if c.When == "" {
			chosenThen = c.Then
			matched = true
			continue
		}
		ok, err := ins.Eval.EvalBoolean(ctx, n.Position, c.When, sc)
		if err != nil {
			return ins.fault(n, werror.From(err, n.Position))
		}
		if ok {
			chosenThen = c.Then
			matched = true
			break
		}
	}
	if !matched {
		chosenThen = model.ThenContinue
	}
	return ins.then(ctx, n, chosenThen, st.RawOutput)
}

func (ins *Instance) executeFork(ctx context.Context, n *model.Node) Outcome {
	// The single-threaded per-instance driver serializes fork branches
	// (permitted by the spec when true intra-instance parallelism is not
	// required): each branch runs to completion in document order and the
	// branch outputs are collected into an array.
	sc := ins.ScopeFor(n).ToMap()
	outputs := make([]any, 0, len(n.Children))
	for _, branch := range n.Children {
		bst := ins.StateAt(branch)
		bst.RawInput = sc["input"]
		ins.SetState(branch, bst)
		out, err := ins.runToCompletion(ctx, branch)
		if err != nil {
			return ins.fault(n, werror.From(err, n.Position))
		}
		outputs = append(outputs, out)
	}
	st := ins.StateAt(n)
	st.RawOutput = outputs
	ins.SetState(n, st)
	return ins.complete(ctx, n)
}

// runToCompletion drives a subtree synchronously to its own completion,
// used only by Fork, which always runs its branches serialized through
// this helper; there is no concurrent branch mode.
func (ins *Instance) runToCompletion(ctx context.Context, n *model.Node) (any, error) {
	cur := n
	for {
		o := ins.Step(ctx, cur)
		switch o.Kind {
		case Advance:
			cur = o.Next
		case Completed:
			return o.Output, nil
		case Faulted:
			return nil, o.Err
		case Suspend:
			// A nested activity inside a serialized branch runs to
			// completion immediately rather than suspending, since there
			// is no outer driver loop to hand the suspension to.
			cur = o.Next
		case WaitFor, RetryFor:
			return nil, werror.New(werror.Configuration, n.Position, "wait/retry inside a serialized fork branch is not supported")
		}
	}
}

// complete validates output.schema (stubbed), evaluates export.as,
// writes this node's transformed output into the parent's rawOutput, and
// resets local state, then dispatches to then().
func (ins *Instance) complete(ctx context.Context, n *model.Node) Outcome {
	st := ins.StateAt(n)
	sc := ins.ScopeFor(n).ToMap()

	transformed := st.RawOutput
	if n.Output != nil && n.Output.From != "" {
		v, err := ins.Eval.EvalExpression(ctx, n.Position, n.Output.From, sc)
		if err != nil {
			return ins.fault(n, err)
		}
		transformed = v
	}
	st.RawOutput = transformed
	ins.SetState(n, st)

	if n.Export != nil && n.Export.As != "" {
		obj, err := ins.Eval.EvalObject(ctx, n.Position, n.Export.As, sc)
		if err != nil {
			return ins.fault(n, err)
		}
		ins.WF.Context = obj
	}

	if n.Parent != nil {
		pst := ins.StateAt(n.Parent)
		pst.RawOutput = transformed
		ins.SetState(n.Parent, pst)
	}

	flow := n.Then
	if flow == "" {
		flow = model.ThenContinue
	}
	ins.ResetState(n)
	return ins.then(ctx, n, flow, transformed)
}

// completeAndContinue is invoked when the driver revisits a node whose
// rawOutput is already populated (an activity that suspended and has now
// been redelivered with its result): it skips straight to complete().
func (ins *Instance) completeAndContinue(ctx context.Context, n *model.Node) Outcome {
	return ins.complete(ctx, n)
}

// then follows a flow directive per §4.3: null/CONTINUE asks the parent to
// continue to n's next sibling; EXIT asks the parent to behave as though
// the parent itself just completed; END terminates the whole workflow; any
// other string names a sibling to jump to directly. output is n's own
// current output, passed explicitly rather than re-read from state since
// callers (complete, in particular) may have already reset n's state by
// the time then dispatches.
func (ins *Instance) then(ctx context.Context, n *model.Node, flow string, output any) Outcome {
	switch flow {
	case "", model.ThenContinue:
		if n.Parent == nil {
			return Outcome{Kind: Completed, Output: output}
		}
		return ins.continueParent(ctx, n)
	case model.ThenExit:
		if n.Parent == nil {
			return Outcome{Kind: Completed, Output: output}
		}
		return ins.complete(ctx, n.Parent)
	case model.ThenEnd:
		return Outcome{Kind: Completed, Output: output}
	default:
		target := findSiblingByName(n, flow)
		if target == nil {
			return ins.fault(n, werror.Newf(werror.Configuration, n.Position, "then target %q not found among siblings", flow))
		}
		tst := ins.StateAt(target)
		tst.RawInput = output
		ins.SetState(target, tst)

		// A named jump bypasses continueDo's own index bookkeeping, so the
		// parent's childIndex is repointed at the jump target: when it later
		// falls through normally, continueDo resumes counting from here
		// rather than replaying the jump or skipping past it.
		if idx := childIndexOf(n.Parent, target); idx >= 0 {
			pst := ins.StateAt(n.Parent)
			pst.ChildIndex = idx
			ins.SetState(n.Parent, pst)
		}
		return Outcome{Kind: Advance, Next: target}
	}
}

// childIndexOf returns target's position among parent's children, or -1 if
// target is not one of them.
func childIndexOf(parent *model.Node, target *model.Node) int {
	for i, c := range parent.Children {
		if c == target {
			return i
		}
	}
	return -1
}

// continueParent asks n's parent to advance to n's next sibling; this is
// the parent's continue() being invoked on n's behalf, dispatched by kind.
func (ins *Instance) continueParent(ctx context.Context, n *model.Node) Outcome {
	parent := n.Parent
	switch parent.Kind {
	case model.Do, model.Root:
		return ins.continueDo(ctx, parent)
	case model.For:
		return ins.continueFor(ctx, parent)
	case model.Try:
		return ins.complete(ctx, parent)
	default:
		return ins.complete(ctx, parent)
	}
}

func findSiblingByName(n *model.Node, name string) *model.Node {
	if n.Parent == nil {
		return nil
	}
	return n.Parent.ChildByName(name)
}

func (ins *Instance) fault(n *model.Node, err error) Outcome {
	return Outcome{Kind: Faulted, Next: n, Err: werror.From(err, n.Position)}
}

// parseDuration resolves a wait duration, which may be a literal ISO 8601
// string or a runtime expression yielding one.
func parseDuration(ctx context.Context, ev Evaluator, n *model.Node, raw string, sc map[string]any) (time.Duration, error) {
	s := raw
	if looksLikeExpression(raw) {
		v, err := ev.EvalExpression(ctx, n.Position, raw, sc)
		if err != nil {
			return 0, err
		}
		if str, ok := v.(string); ok {
			s = str
		}
	}
	return iso8601Duration(s)
}

func looksLikeExpression(s string) bool {
	return len(s) > 0 && (s[0] == '.' || s[0] == '$')
}

// iso8601Duration parses a restricted ISO 8601 duration of the form
// PnDTnHnMnS (only the units SW DSL wait clauses actually use).
func iso8601Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, werror.New(werror.Configuration, position.Root, "empty wait duration")
	}
	var total time.Duration
	i := 0
	if i >= len(s) || s[i] != 'P' {
		return 0, werror.Newf(werror.Configuration, position.Root, "invalid ISO 8601 duration %q", s)
	}
	i++
	inTime := false
	num := ""
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 'T':
			inTime = true
		case c >= '0' && c <= '9' || c == '.':
			num += string(c)
		default:
			n, err := parseFloatDigits(num)
			if err != nil {
				return 0, werror.Newf(werror.Configuration, position.Root, "invalid ISO 8601 duration %q", s)
			}
			num = ""
			switch c {
			case 'D':
				total += time.Duration(n * float64(24*time.Hour))
			case 'H':
				total += time.Duration(n * float64(time.Hour))
			case 'M':
				if inTime {
					total += time.Duration(n * float64(time.Minute))
				} else {
					total += time.Duration(n * float64(30*24*time.Hour))
				}
			case 'S':
				total += time.Duration(n * float64(time.Second))
			default:
				return 0, werror.Newf(werror.Configuration, position.Root, "invalid ISO 8601 duration unit in %q", s)
			}
		}
	}
	return total, nil
}

func parseFloatDigits(s string) (float64, error) {
	if s == "" {
		return 0, werror.New(werror.Configuration, position.Root, "missing numeric duration component")
	}
	var whole, frac float64
	var fracDiv float64 = 1
	seenDot := false
	for _, c := range s {
		if c == '.' {
			seenDot = true
			continue
		}
		d := float64(c - '0')
		if !seenDot {
			whole = whole*10 + d
		} else {
			fracDiv *= 10
			frac = frac*10 + d
		}
	}
	return whole + frac/fracDiv, nil
}

// backoffDelay computes the Try retry delay with exponential backoff and
// jitter, clamped to a minimum of 100ms per the outbox contract.
func backoffDelay(base time.Duration, multiplier float64, attemptIndex int, jitterPct float64) time.Duration {
	d := float64(base) * math.Pow(multiplier, float64(attemptIndex-1))
	if jitterPct > 0 {
		j := (rand.Float64()*2 - 1) * jitterPct
		d += d * j
	}
	if d < float64(100*time.Millisecond) {
		d = float64(100 * time.Millisecond)
	}
	return time.Duration(d)
}
