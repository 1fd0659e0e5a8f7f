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
	"time"

	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/werror"
)

// HandleFault implements §4.5: walk up from the raising node looking for
// the nearest Try whose catch clause matches the error, reset the caught
// subtree, and either schedule a retry, run the catch/do branch, or (if no
// Try catches) leave the fault to bubble out as a final Faulted Outcome.
func (ins *Instance) HandleFault(ctx context.Context, origin *model.Node, err *werror.Error) Outcome {
	for anc := origin.Parent; anc != nil; anc = anc.Parent {
		if anc.Kind != model.Try || anc.Try == nil {
			continue
		}
		spec := anc.Try
		if !err.Matches(matchKind(spec.CatchErrorType), spec.CatchErrorStatus) {
			continue
		}

		errObj := map[string]any{
			"type":     string(err.Type),
			"title":    err.Title,
			"details":  err.Details,
			"status":   err.Status,
			"position": err.Pos.String(),
		}

		if spec.CatchWhen != "" || spec.CatchExceptWhen != "" {
			guardScope := ins.ScopeFor(anc).WithLocals(map[string]any{spec.CatchAs: errObj}).ToMap()
			if spec.CatchWhen != "" {
				ok, evalErr := ins.Eval.EvalBoolean(ctx, anc.Position, spec.CatchWhen, guardScope)
				if evalErr != nil || !ok {
					continue
				}
			}
			if spec.CatchExceptWhen != "" {
				ok, evalErr := ins.Eval.EvalBoolean(ctx, anc.Position, spec.CatchExceptWhen, guardScope)
				if evalErr != nil || ok {
					continue
				}
			}
		}

		if tryChild := anc.TryChild(); tryChild != nil {
			ins.resetSubtree(tryChild)
		}

		tryState := ins.StateAt(anc)
		if spec.Retry != nil && ins.canRetry(ctx, anc, spec.Retry, map[string]any{spec.CatchAs: errObj}) {
			tryState.AttemptIndex++
			delay := backoffDelay(isoOrDefault(spec.Retry.Delay), spec.Retry.BackoffMultiplier, tryState.AttemptIndex, spec.Retry.BackoffJitterPct)
			ins.SetState(anc, tryState)
			return Outcome{Kind: RetryFor, Next: anc, Duration: delay}
		}

		catchChild := anc.CatchChild()
		if catchChild == nil {
			return ins.then(ctx, anc, model.ThenContinue, tryState.RawOutput)
		}
		cst := ins.StateAt(catchChild)
		if cst.Variables == nil {
			cst.Variables = map[string]any{}
		}
		cst.Variables[spec.CatchAs] = errObj
		cst.RawInput = tryState.RawInput
		ins.SetState(catchChild, cst)
		return Outcome{Kind: Advance, Next: catchChild}
	}

	return Outcome{Kind: Faulted, Next: origin, Err: err}
}

// matchKind treats an empty/"*" catch type as a wildcard.
func matchKind(t string) werror.Kind {
	if t == "" || t == "*" {
		return ""
	}
	return werror.Kind(t)
}

// canRetry evaluates the retry policy's attempt/duration/when/exceptWhen
// guards against the Try's own accumulated state.
func (ins *Instance) canRetry(ctx context.Context, anc *model.Node, policy *model.RetryPolicy, errBinding map[string]any) bool {
	tryState := ins.StateAt(anc)
	if policy.LimitAttemptCount > 0 && tryState.AttemptIndex >= policy.LimitAttemptCount {
		return false
	}
	if policy.LimitDuration != "" && tryState.StartedAt != nil {
		limit, err := iso8601Duration(policy.LimitDuration)
		if err == nil && time.Since(*tryState.StartedAt) >= limit {
			return false
		}
	}
	if policy.When != "" || policy.ExceptWhen != "" {
		guardScope := ins.ScopeFor(anc).WithLocals(errBinding).ToMap()
		if policy.When != "" {
			ok, evalErr := ins.Eval.EvalBoolean(ctx, anc.Position, policy.When, guardScope)
			if evalErr != nil || !ok {
				return false
			}
		}
		if policy.ExceptWhen != "" {
			ok, evalErr := ins.Eval.EvalBoolean(ctx, anc.Position, policy.ExceptWhen, guardScope)
			if evalErr != nil || ok {
				return false
			}
		}
	}
	return true
}

func (ins *Instance) resetSubtree(n *model.Node) {
	ins.ResetState(n)
	for _, c := range n.Children {
		ins.resetSubtree(c)
	}
}

func isoOrDefault(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := iso8601Duration(s)
	if err != nil {
		return 0
	}
	return d
}
