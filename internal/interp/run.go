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
)

// Run is the driver-facing control-flow loop of §4.4 step 4: it keeps
// calling Step at successive nodes, transparently routing any Faulted
// outcome through HandleFault to search for a catching Try, until it
// reaches a node that isn't plain Advance — a Suspend (an activity just
// ran and the driver should emit a new Message), WaitFor/RetryFor (a
// delayed continuation belongs in the outbox), Completed, or an
// unhandled Faulted.
func (ins *Instance) Run(ctx context.Context, start *model.Node) Outcome {
	cur := start
	for {
		o := ins.Step(ctx, cur)
		if o.Kind == Faulted {
			o = ins.HandleFault(ctx, o.Next, o.Err)
		}
		if o.Kind != Advance {
			return o
		}
		cur = o.Next
	}
}
