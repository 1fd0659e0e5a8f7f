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

// Package runscript implements the Run activity: Run.Shell (no language
// set, command executed via the system shell) and Run.Script (a language
// name selects an interpreter the command/code is handed to). Both forms
// return the same {code, stdout, stderr} triple; a non-zero exit is part
// of that triple, not a runtime error — only an unresolvable command, a
// spawn-level failure or a run that outlives its timeout raises one.
package runscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
)

// Evaluator is the subset of internal/expr.Evaluator needed to resolve a
// CallSpec's command, argument, and environment fields.
type Evaluator interface {
	Eval(ctx context.Context, pos position.Position, expression any, scope map[string]any) (any, error)
}

// Config holds the Run activity's sandbox and resource limits
// (WorkingDir, Timeout, AllowedCommands); Interpreters extends that shape
// to cover Run.Script's language dispatch, which a shell-only command
// runner never needed.
type Config struct {
	// WorkingDir is the working directory for spawned commands; "" uses
	// the process's own.
	WorkingDir string

	// Timeout bounds one command's execution; 0 disables the bound.
	Timeout time.Duration

	// AllowedCommands restricts which interpreter/shell names may be
	// spawned (empty allows any). Checked against the resolved binary
	// name ("sh" for Run.Shell, the interpreter for Run.Script), not the
	// full command line.
	AllowedCommands []string

	// Interpreters maps a Run.Script language name to its interpreter
	// binary. DefaultConfig seeds the common set; callers may extend or
	// override it.
	Interpreters map[string]string
}

// interpreterFlags gives the flag each interpreter uses to run an inline
// program, since "node -e" differs from "python3 -c"/"sh -c".
var interpreterFlags = map[string]string{
	"python3": "-c",
	"sh":      "-c",
	"bash":    "-c",
	"node":    "-e",
}

// DefaultConfig returns a 30s timeout and the common js/python/sh/bash
// interpreter set, with no command allow-list.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Interpreters: map[string]string{
			"sh":     "sh",
			"bash":   "bash",
			"python": "python3",
			"js":     "node",
			"node":   "node",
		},
	}
}

// Activity implements the Run side of interp.Activities.
type Activity struct {
	eval Evaluator
	cfg  Config
}

// New builds an Activity. A zero-value cfg.Interpreters falls back to
// DefaultConfig's set at call time.
func New(eval Evaluator, cfg Config) *Activity {
	return &Activity{eval: eval, cfg: cfg}
}

func (a *Activity) interpreters() map[string]string {
	if len(a.cfg.Interpreters) > 0 {
		return a.cfg.Interpreters
	}
	return DefaultConfig().Interpreters
}

// Run resolves n.Call against sc and executes the command or script.
func (a *Activity) Run(ctx context.Context, n *model.Node, sc map[string]any) (any, error) {
	spec := n.Call
	if spec == nil {
		return nil, werror.New(werror.Configuration, n.Position, "run requires a with clause")
	}

	resolvedCommand, err := a.eval.Eval(ctx, n.Position, spec.Command, sc)
	if err != nil {
		return nil, err
	}
	command, _ := resolvedCommand.(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, werror.New(werror.Configuration, n.Position, "run requires a non-empty command")
	}

	args, err := a.resolveArgs(ctx, n.Position, spec.Args, sc)
	if err != nil {
		return nil, err
	}
	env, err := a.resolveEnv(ctx, n.Position, spec.Env, sc)
	if err != nil {
		return nil, err
	}

	binary, cmdArgs, err := a.buildCommandLine(n.Position, strings.TrimSpace(spec.Language), command, args)
	if err != nil {
		return nil, err
	}
	if err := a.checkAllowed(n.Position, binary); err != nil {
		return nil, err
	}

	runCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binary, cmdArgs...)
	if a.cfg.WorkingDir != "" {
		cmd.Dir = a.cfg.WorkingDir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if runCtx.Err() != nil {
			return nil, werror.New(werror.Timeout, n.Position, "run timed out").WithCause(runCtx.Err())
		} else if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return nil, werror.New(werror.Communication, n.Position, "failed to execute command").WithCause(runErr)
		}
	}

	return map[string]any{
		"code":   code,
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	}, nil
}

// buildCommandLine decides the binary and argument vector for language
// (Run.Script) or its absence (Run.Shell).
func (a *Activity) buildCommandLine(pos position.Position, language, command string, args []string) (string, []string, error) {
	if language == "" {
		cmdArgs := append([]string{"-c", command}, args...)
		return "sh", cmdArgs, nil
	}

	binary, ok := a.interpreters()[language]
	if !ok {
		return "", nil, werror.Newf(werror.Configuration, pos, "unsupported script language %q", language)
	}
	flag := interpreterFlags[binary]
	if flag == "" {
		flag = "-c"
	}
	cmdArgs := append([]string{flag, command}, args...)
	return binary, cmdArgs, nil
}

func (a *Activity) checkAllowed(pos position.Position, binary string) error {
	if len(a.cfg.AllowedCommands) == 0 {
		return nil
	}
	for _, allowed := range a.cfg.AllowedCommands {
		if allowed == binary {
			return nil
		}
	}
	return werror.Newf(werror.Authorization, pos, "command %q is not in the allowed list", binary)
}

func (a *Activity) resolveArgs(ctx context.Context, pos position.Position, raw []any, sc map[string]any) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	resolved, err := a.eval.Eval(ctx, pos, raw, sc)
	if err != nil {
		return nil, err
	}
	list, ok := resolved.([]any)
	if !ok {
		return nil, werror.New(werror.Configuration, pos, "run arguments must resolve to a list")
	}
	out := make([]string, len(list))
	for i, v := range list {
		out[i] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func (a *Activity) resolveEnv(ctx context.Context, pos position.Position, raw map[string]any, sc map[string]any) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	resolved, err := a.eval.Eval(ctx, pos, raw, sc)
	if err != nil {
		return nil, err
	}
	m, ok := resolved.(map[string]any)
	if !ok {
		return nil, werror.New(werror.Configuration, pos, "run environment must resolve to an object")
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, fmt.Sprintf("%s=%v", k, v))
	}
	return out, nil
}
