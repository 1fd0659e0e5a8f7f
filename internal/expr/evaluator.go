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

// Package expr evaluates the three expression shapes the DSL accepts (bare
// jq programs, "${...}" interpolation strings, and JSON templates) against
// a scope, using JQ semantics throughout.
package expr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
)

const (
	// DefaultTimeout bounds a single expression's execution.
	DefaultTimeout = 1 * time.Second
)

// Evaluator compiles and runs jq programs with a bounded timeout, caching
// compiled queries by source text since the same expression is typically
// evaluated many times across instances of the same workflow.
type Evaluator struct {
	timeout time.Duration
	cache   map[string]*gojq.Code
}

// New creates an Evaluator with the default timeout.
func New() *Evaluator {
	return &Evaluator{timeout: DefaultTimeout, cache: make(map[string]*gojq.Code)}
}

// NewWithTimeout creates an Evaluator bounding each evaluation to d.
func NewWithTimeout(d time.Duration) *Evaluator {
	return &Evaluator{timeout: d, cache: make(map[string]*gojq.Code)}
}

// Eval evaluates a single expression shape against scope data and returns
// the resulting value:
//   - a string with no "${" that begins with a jq sigil (see
//     looksLikeBareJQ) is run directly as a jq program; any other string
//     with no "${" is returned as literal text.
//   - a string containing "${...}" fragments is interpolated: fragments are
//     evaluated and concatenated with the literal text around them; a
//     string that is a single whole "${...}" fragment with nothing else
//     yields that fragment's raw (non-string-coerced) result.
//   - a map or slice is walked recursively, treating every string leaf as
//     an interpolation string and passing every other value through as-is.
//
// Expression evaluation never mutates scope.
func (e *Evaluator) Eval(ctx context.Context, pos position.Position, expression any, scope map[string]any) (any, error) {
	switch v := expression.(type) {
	case nil:
		return nil, nil
	case string:
		return e.evalString(ctx, pos, v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, sub := range v {
			r, err := e.Eval(ctx, pos, sub, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, sub := range v {
			r, err := e.Eval(ctx, pos, sub, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// EvalExpression evaluates program as a bare jq program regardless of its
// surface shape. Used for the DSL fields the spec defines as always being
// a runtime expression — `if`, `when`, `for.in`, `for.while`, retry
// `when`/`exceptWhen` — where auto-detecting expression-vs-literal text
// would be wrong even for a string that doesn't start with '.' or '$'.
func (e *Evaluator) EvalExpression(ctx context.Context, pos position.Position, program string, scope map[string]any) (any, error) {
	if program == "" {
		return nil, nil
	}
	return e.run(ctx, pos, program, scope)
}

// evalString decides whether s is a bare jq program or an interpolation
// string, and evaluates it accordingly.
func (e *Evaluator) evalString(ctx context.Context, pos position.Position, s string, scope map[string]any) (any, error) {
	frags := splitInterpolation(s)
	if len(frags) == 1 && !frags[0].isExpr {
		// Plain literal text, no jq content at all: pass through unchanged.
		return s, nil
	}
	if len(frags) == 1 && frags[0].isExpr {
		// A single whole "${...}" or bare jq program: return the raw result,
		// preserving its type (number, bool, object, ...) rather than
		// coercing to string.
		return e.run(ctx, pos, frags[0].text, scope)
	}

	var b strings.Builder
	for _, f := range frags {
		if !f.isExpr {
			b.WriteString(f.text)
			continue
		}
		v, err := e.run(ctx, pos, f.text, scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

// fixedVarNames is the stable set of $-variables every compiled program
// declares, matching the SW DSL convention of reaching layers via
// `$context`/`$secrets`/`$workflow`/`$runtime`/`$task`/`$input`/`$output`
// in addition to plain `.key` navigation into the root scope object. The
// set is fixed (not derived from whatever happens to be in a given call's
// scope map) so that a cached *gojq.Code's variable declaration always
// matches the argument order passed to Run, regardless of which scope
// layers happen to be populated for a particular call.
var fixedVarNames = []string{"context", "secrets", "workflow", "runtime", "task", "input", "output"}

// run compiles (or fetches from cache) and executes one jq program.
func (e *Evaluator) run(ctx context.Context, pos position.Position, program string, scope map[string]any) (any, error) {
	code, ok := e.cache[program]
	if !ok {
		query, err := gojq.Parse(program)
		if err != nil {
			return nil, werror.New(werror.Expression, pos, "invalid jq expression").WithDetails(err.Error())
		}
		code, err = gojq.Compile(query, gojq.WithVariables(fixedVarNames))
		if err != nil {
			return nil, werror.New(werror.Expression, pos, "jq compilation failed").WithDetails(err.Error())
		}
		e.cache[program] = code
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	values := make([]any, len(fixedVarNames))
	for i, name := range fixedVarNames {
		values[i] = scope[name]
	}
	iter := code.RunWithContext(runCtx, scope, values...)

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, werror.New(werror.Expression, pos, "jq evaluation failed").WithDetails(err.Error()).WithCause(err)
		}
		results = append(results, v)
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
