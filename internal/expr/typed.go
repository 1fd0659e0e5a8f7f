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

package expr

import (
	"context"

	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
)

// EvalBoolean evaluates program and requires a boolean result. Used for
// `.if`, `when`, retry guards, and `for.while`.
func (e *Evaluator) EvalBoolean(ctx context.Context, pos position.Position, program string, scope map[string]any) (bool, error) {
	v, err := e.EvalExpression(ctx, pos, program, scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, werror.Newf(werror.Expression, pos, "expected boolean result, got %T", v)
	}
	return b, nil
}

// EvalList evaluates program and requires a list result. Used for `for.in`.
func (e *Evaluator) EvalList(ctx context.Context, pos position.Position, program string, scope map[string]any) ([]any, error) {
	v, err := e.EvalExpression(ctx, pos, program, scope)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, werror.Newf(werror.Expression, pos, "expected list result, got %T", v)
	}
	return list, nil
}

// EvalObject evaluates program and requires an object result. Used for
// `export.as`, which must replace the workflow context with an object.
func (e *Evaluator) EvalObject(ctx context.Context, pos position.Position, program string, scope map[string]any) (map[string]any, error) {
	v, err := e.EvalExpression(ctx, pos, program, scope)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, werror.Newf(werror.Expression, pos, "expected object result, got %T", v)
	}
	return obj, nil
}

// EvalStringResult evaluates expression (any of the three accepted shapes
// via Eval) and requires a string result.
func (e *Evaluator) EvalStringResult(ctx context.Context, pos position.Position, expression any, scope map[string]any) (string, error) {
	v, err := e.Eval(ctx, pos, expression, scope)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", werror.Newf(werror.Expression, pos, "expected string result, got %T", v)
	}
	return s, nil
}
