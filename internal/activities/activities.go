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

// Package activities composes the individual activity implementations
// (internal/httpcall, internal/runscript, internal/unsupported) into one
// interp.Activities, the shape internal/driver.New actually wants. Each
// activity package stays free of the others' concerns; this is the one
// place that wires CallHTTP/Run/Unsupported together for a deployment.
package activities

import (
	"context"

	"github.com/workflowrt/engine/pkg/model"
)

// HTTP is the CallHTTP side, satisfied by *httpcall.Activity.
type HTTP interface {
	CallHTTP(ctx context.Context, n *model.Node, scope map[string]any) (any, error)
}

// Script is the Run side, satisfied by *runscript.Activity.
type Script interface {
	Run(ctx context.Context, n *model.Node, scope map[string]any) (any, error)
}

// Rest is everything this deployment leaves to an external collaborator,
// satisfied by unsupported.Activity.
type Rest interface {
	Unsupported(ctx context.Context, n *model.Node) (any, error)
}

// Set implements interp.Activities by dispatching each method to its own
// sub-implementation.
type Set struct {
	HTTP   HTTP
	Script Script
	Rest   Rest
}

// New builds a Set from the three sub-implementations.
func New(http HTTP, script Script, rest Rest) Set {
	return Set{HTTP: http, Script: script, Rest: rest}
}

func (s Set) CallHTTP(ctx context.Context, n *model.Node, scope map[string]any) (any, error) {
	return s.HTTP.CallHTTP(ctx, n, scope)
}

func (s Set) Run(ctx context.Context, n *model.Node, scope map[string]any) (any, error) {
	return s.Script.Run(ctx, n, scope)
}

func (s Set) Unsupported(ctx context.Context, n *model.Node) (any, error) {
	return s.Rest.Unsupported(ctx, n)
}
