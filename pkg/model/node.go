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

// Package model holds the immutable, process-wide static view of a parsed
// workflow document: a typed Node tree keyed by Position, built once per
// (name, version) and shared read-only across every in-flight instance.
package model

import "github.com/workflowrt/engine/pkg/position"

// Flow directive values recognized by Then.
const (
	ThenContinue = "continue"
	ThenExit     = "exit"
	ThenEnd      = "end"
)

// IOFilter captures an input.* or output.* transformation clause.
type IOFilter struct {
	From   string // jq/interpolation expression, or "" for identity
	Schema any    // JSON schema document, or nil
}

// ExportFilter captures an export.as clause.
type ExportFilter struct {
	As     string
	Schema any
}

// SwitchCase is one entry of a Switch task's case list.
type SwitchCase struct {
	Name string
	When string // boolean jq expression; "" means this is the default case
	Then string // flow directive, resolved the same way as Node.Then
}

// ForSpec captures a For task's iteration clause.
type ForSpec struct {
	Each  string // variable name bound per-iteration, default "each"
	In    string // jq expression yielding the list to iterate
	At    string // variable name bound to the iteration index, default "index"
	While string // optional boolean jq expression re-checked every iteration
}

// RetryPolicy captures a Try/catch retry clause.
type RetryPolicy struct {
	LimitAttemptCount int
	LimitDuration     string // ISO 8601 duration, "" for unbounded
	Delay             string // ISO 8601 duration
	BackoffMultiplier float64
	BackoffJitterPct  float64 // e.g. 0.2 for ±20%
	When              string  // optional guard, must be true to retry
	ExceptWhen        string  // optional guard, must be false to retry
}

// TrySpec captures a Try task's catch clause (the try/do subtree is just
// the node's first child; there is nothing else to hold about it here).
type TrySpec struct {
	CatchErrorType   string // "" or "*" matches any type
	CatchErrorStatus int    // 0 matches any status
	CatchAs          string // scope variable name the caught error is bound to, default "error"
	CatchWhen        string
	CatchExceptWhen  string
	Retry            *RetryPolicy
}

// RaiseSpec captures a Raise task's static error template.
type RaiseSpec struct {
	ErrorType   string
	ErrorStatus int
	ErrorTitle  string
	ErrorDetail string
}

// WaitSpec captures a Wait task's duration clause.
type WaitSpec struct {
	Duration string // ISO 8601 duration literal or an expression yielding one
}

// CallSpec captures the activity-specific payload of a Call* or Run task.
type CallSpec struct {
	Endpoint   any // string (URI template/expression) or endpoint object
	Method     string
	Headers    map[string]any
	Query      map[string]any
	Body       any
	OutputMode string // "raw" | "content" | "response"
	Redirect   bool
	Language   string // Run.Script language (js, python, sh, ...)
	Command    string // Run.Shell command, or Run.Script entry point
	Args       []any
	Env        map[string]any
	Raw        map[string]any // full untyped payload for Emit/Listen/CallGRPC/CallOpenAPI/CallAsync/CallFunction
}

// Node is the immutable, static representation of one task at a Position.
// Node trees are built once per (name, version) and shared read-only by
// every concurrently executing instance; nothing about a Node mutates
// after the tree is built.
type Node struct {
	Position position.Position
	Kind     Kind
	Name     string
	Parent   *Node
	Children []*Node

	RawTask map[string]any

	Input   *IOFilter
	Output  *IOFilter
	Export  *ExportFilter
	If      string
	Then    string
	Timeout string // ISO 8601 duration, "" for no explicit timeout

	Switch []SwitchCase
	For    *ForSpec
	Try    *TrySpec
	Raise  *RaiseSpec
	Set    any
	Wait   *WaitSpec
	Call   *CallSpec
}

// IsActivity reports whether this node performs an external side effect or
// suspends the instance.
func (n *Node) IsActivity() bool { return n.Kind.IsActivity() }

// ChildByName returns the child with the given Name, or nil.
func (n *Node) ChildByName(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// TryChild returns the try/do child, or nil if this is not a Try node.
func (n *Node) TryChild() *Node {
	if n.Kind != Try || len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}

// CatchChild returns the catch/do child, or nil if absent.
func (n *Node) CatchChild() *Node {
	if n.Kind != Try || len(n.Children) < 2 {
		return nil
	}
	return n.Children[1]
}

// ForChild returns the <pos>/do child of a For node, or nil.
func (n *Node) ForChild() *Node {
	if n.Kind != For || len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}
