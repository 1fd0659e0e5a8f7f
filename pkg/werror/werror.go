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

// Package werror defines the workflow error taxonomy: the typed faults the
// interpreter raises and that a Try/catch block matches against.
package werror

import (
	"fmt"

	"github.com/workflowrt/engine/pkg/position"
)

// Kind identifies one of the workflow error categories.
type Kind string

const (
	Configuration  Kind = "CONFIGURATION"
	Validation     Kind = "VALIDATION"
	Expression     Kind = "EXPRESSION"
	Authentication Kind = "AUTHENTICATION"
	Authorization  Kind = "AUTHORIZATION"
	Timeout        Kind = "TIMEOUT"
	Communication  Kind = "COMMUNICATION"
	Runtime        Kind = "RUNTIME"
)

// defaultStatus mirrors the HTTP-like status code each kind defaults to.
var defaultStatus = map[Kind]int{
	Configuration:  400,
	Validation:     400,
	Expression:     400,
	Authentication: 401,
	Authorization:  403,
	Timeout:        408,
	Communication:  500,
	Runtime:        500,
}

// DefaultStatus returns the default HTTP-like status for a Kind.
func DefaultStatus(k Kind) int {
	if s, ok := defaultStatus[k]; ok {
		return s
	}
	return 500
}

// Error is the typed, positioned workflow fault described by the Data
// Model: {type, title, details?, status, position}. It implements the
// error interface and Unwrap for errors.Is/As support over an optional
// wrapped cause.
type Error struct {
	Type    Kind
	Title   string
	Details string
	Status  int
	Pos     position.Position
	Cause   error
}

// New creates a workflow error of the given kind at pos with a title.
func New(kind Kind, pos position.Position, title string) *Error {
	return &Error{Type: kind, Title: title, Status: DefaultStatus(kind), Pos: pos}
}

// Newf creates a workflow error with a formatted title.
func Newf(kind Kind, pos position.Position, format string, args ...any) *Error {
	return New(kind, pos, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional detail text and returns the receiver for
// chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithCause attaches an underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s at %s: %s (%s)", e.Type, e.Pos.String(), e.Title, e.Details)
	}
	return fmt.Sprintf("%s at %s: %s", e.Type, e.Pos.String(), e.Title)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AtPosition returns a copy of e with its position replaced. Used by the
// driver to stamp the raising node's position onto an error surfaced from
// deeper machinery (expression evaluation, schema validation) that does not
// itself carry position context.
func (e *Error) AtPosition(pos position.Position) *Error {
	cp := *e
	cp.Pos = pos
	return &cp
}

// From normalizes an arbitrary error into a *Error. If err is already a
// *Error it is returned unchanged (except position is stamped if it was
// zero-value Root and pos is not Root, to avoid masking a more specific
// inner position). Otherwise a RUNTIME error wrapping err is produced.
func From(err error, pos position.Position) *Error {
	if err == nil {
		return nil
	}
	if we, ok := err.(*Error); ok {
		if we.Pos.IsRoot() && !pos.IsRoot() {
			return we.AtPosition(pos)
		}
		return we
	}
	return New(Runtime, pos, err.Error()).WithCause(err)
}

// Matches reports whether e satisfies a catch clause's type/status filter.
// An empty wantType or wantStatus of 0 acts as a wildcard, matching any
// error, per the Serverless Workflow DSL's '*' catch-all convention.
func (e *Error) Matches(wantType Kind, wantStatus int) bool {
	if wantType != "" && wantType != e.Type {
		return false
	}
	if wantStatus != 0 && wantStatus != e.Status {
		return false
	}
	return true
}
