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

import (
	"fmt"
	"strings"
)

// Mermaid renders the Tree as a Mermaid flowchart for operator diagnostics.
// This is a side product of the tree builder, not part of the core
// addressing contract: its output is not guaranteed stable across releases
// and must never be parsed back.
func (t *Tree) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	ids := map[string]string{}
	counter := 0
	nextID := func(pos string) string {
		if id, ok := ids[pos]; ok {
			return id
		}
		id := fmt.Sprintf("n%d", counter)
		counter++
		ids[pos] = id
		return id
	}

	var walk func(n *Node)
	walk = func(n *Node) {
		id := nextID(n.Position.String())
		label := string(n.Kind)
		if n.Name != "" {
			label = fmt.Sprintf("%s: %s", n.Name, n.Kind)
		}
		fmt.Fprintf(&b, "    %s[%q]\n", id, label)
		for _, c := range n.Children {
			cid := nextID(c.Position.String())
			fmt.Fprintf(&b, "    %s --> %s\n", id, cid)
			walk(c)
		}
	}
	walk(t.Root)

	for _, sc := range switchThens(t.Root, ids) {
		b.WriteString(sc)
	}
	return b.String()
}

// switchThens emits dashed edges for named-sibling `then` jumps so the
// diagram shows control flow that the tree shape alone doesn't capture. ids
// is the position-string-to-mermaid-node-id map built during the main walk.
func switchThens(root *Node, ids map[string]string) []string {
	var out []string
	var walk func(n *Node, siblings []*Node)
	walk = func(n *Node, siblings []*Node) {
		for _, c := range n.Children {
			walk(c, n.Children)
		}
		if n.Then != "" && n.Then != ThenContinue && n.Then != ThenExit && n.Then != ThenEnd {
			if target := findSibling(siblings, n.Then); target != nil {
				fromID, fromOK := ids[n.Position.String()]
				toID, toOK := ids[target.Position.String()]
				if fromOK && toOK {
					out = append(out, fmt.Sprintf("    %s -.->|then| %s\n", fromID, toID))
				}
			}
		}
	}
	walk(root, nil)
	return out
}

func findSibling(siblings []*Node, name string) *Node {
	for _, s := range siblings {
		if s.Name == name {
			return s
		}
	}
	return nil
}
