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

// Package unsupported implements interp.Activities.Unsupported for the
// call/event kinds this runtime describes the external contract for but
// does not execute: Emit, Listen, CallGRPC, CallOpenAPI, CallAsync, and
// CallFunction. Each fails with a COMMUNICATION error naming the task kind,
// so a workflow's try/catch can still route around a deployment that has
// not wired a real implementer for that surface in.
package unsupported

import (
	"context"

	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/werror"
)

// Activity implements the Unsupported side of interp.Activities.
type Activity struct{}

// New returns an Activity. It holds no state; every call kind it handles
// fails the same way.
func New() Activity { return Activity{} }

// Unsupported reports n's kind as not implemented by this deployment.
func (Activity) Unsupported(_ context.Context, n *model.Node) (any, error) {
	return nil, werror.Newf(werror.Communication, n.Position, "%s is not implemented by this deployment", n.Kind).
		WithDetails("this runtime describes the external contract for " + string(n.Kind) + " but leaves its execution to a deployment-specific implementer")
}
