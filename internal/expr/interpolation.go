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

import "strings"

// fragment is one piece of a split interpolation string: either literal
// text or a jq program extracted from inside "${...}".
type fragment struct {
	text   string
	isExpr bool
}

// splitInterpolation splits s on "${...}" boundaries. A whole string with
// no "${" at all that begins with a recognizable jq sigil (looksLikeBareJQ)
// is returned as a single expr fragment, so it is evaluated as one bare jq
// program; any other string with no "${" is returned as a single non-expr
// fragment containing the literal text verbatim.
func splitInterpolation(s string) []fragment {
	if !strings.Contains(s, "${") {
		if looksLikeBareJQ(s) {
			return []fragment{{text: s, isExpr: true}}
		}
		return []fragment{{text: s, isExpr: false}}
	}

	var out []fragment
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			if rest != "" {
				out = append(out, fragment{text: rest, isExpr: false})
			}
			break
		}
		if start > 0 {
			out = append(out, fragment{text: rest[:start], isExpr: false})
		}
		end := findMatchingBrace(rest, start+2)
		if end < 0 {
			// Unterminated "${": treat the remainder as literal text.
			out = append(out, fragment{text: rest[start:], isExpr: false})
			break
		}
		out = append(out, fragment{text: rest[start+2 : end], isExpr: true})
		rest = rest[end+1:]
	}
	if len(out) == 0 {
		out = append(out, fragment{text: "", isExpr: false})
	}
	return out
}

// findMatchingBrace finds the index of the '}' that closes the '${' whose
// body starts at from, accounting for nested braces (jq object
// constructors like `{a: .b}` may appear inside an interpolation).
func findMatchingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// looksLikeBareJQ reports whether s, taken as a whole with no "${"
// wrapper, should be evaluated as a jq program rather than passed through
// as a literal. The DSL's `.if`, `for.in`, `when`, and similar fields are
// always bare jq; free text fields (task names, literal defaults) are not
// run through this path at all by their callers, so a conservative
// heuristic (starts with '.', '$', or a recognized jq builtin syntax
// character) is sufficient here.
func looksLikeBareJQ(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[0] {
	case '.', '$', '(', '[', '{':
		return true
	}
	return false
}
