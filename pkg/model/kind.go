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

package model

// Kind identifies a node's static task type.
type Kind string

const (
	Root         Kind = "root"
	Do           Kind = "do"
	For          Kind = "for"
	Try          Kind = "try"
	Fork         Kind = "fork"
	Listen       Kind = "listen"
	CallHTTP     Kind = "call:http"
	CallAsync    Kind = "call:asyncapi"
	CallGRPC     Kind = "call:grpc"
	CallOpenAPI  Kind = "call:openapi"
	CallFunction Kind = "call:function"
	Emit         Kind = "emit"
	Raise        Kind = "raise"
	Run          Kind = "run"
	Set          Kind = "set"
	Switch       Kind = "switch"
	Wait         Kind = "wait"
)

// IsActivity reports whether a node of this kind performs an external side
// effect or suspends the instance (i.e. execute() does not complete
// synchronously within one driver pass). Control-flow kinds (Do, For, Try,
// Switch, Fork) and the pure in-process kinds (Set, Raise) are not
// activities.
func (k Kind) IsActivity() bool {
	switch k {
	case CallHTTP, CallAsync, CallGRPC, CallOpenAPI, CallFunction, Emit, Listen, Run, Wait:
		return true
	default:
		return false
	}
}

// IsFlow reports whether this kind is a control-flow construct with
// driver-visible continue() semantics of its own.
func (k Kind) IsFlow() bool {
	switch k {
	case Root, Do, For, Try, Fork, Switch:
		return true
	default:
		return false
	}
}
