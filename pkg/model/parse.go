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
	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
	"gopkg.in/yaml.v3"
)

// Tree is the parsed, immutable static model of one (name, version) document.
// A Tree is built once and shared read-only across every instance driven
// against it.
type Tree struct {
	Name    string
	Version string
	Root    *Node

	byPosition map[string]*Node
}

// Lookup returns the node at pos, or false if no such node exists in this
// tree.
func (t *Tree) Lookup(pos position.Position) (*Node, bool) {
	n, ok := t.byPosition[pos.String()]
	return n, ok
}

// rawDocument is the top-level shape of a Serverless Workflow document.
type rawDocument struct {
	Document map[string]any   `yaml:"document"`
	Input    map[string]any   `yaml:"input"`
	Output   map[string]any   `yaml:"output"`
	Do       []map[string]any `yaml:"do"`
}

// ParseDocument parses a raw DSL document into an addressable Node tree.
// A structurally invalid document fails with a CONFIGURATION error.
func ParseDocument(data []byte) (*Tree, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, configErr(position.Root, "invalid workflow document: %v", err)
	}
	if len(doc.Do) == 0 {
		return nil, configErr(position.Root, "workflow document has no top-level do block")
	}

	name, version := "", ""
	if doc.Document != nil {
		if v, ok := doc.Document["name"].(string); ok {
			name = v
		}
		if v, ok := doc.Document["version"].(string); ok {
			version = v
		}
	}

	root := &Node{Position: position.Root, Kind: Root, RawTask: nil}
	root.Input = ioFilterFrom(doc.Input)
	root.Output = ioFilterFrom(doc.Output)

	doPos := position.Root.Child("do")
	doNode := &Node{Position: doPos, Kind: Do, Name: "do", Parent: root}
	children, err := buildDoChildren(doPos, doc.Do, doNode)
	if err != nil {
		return nil, err
	}
	doNode.Children = children
	root.Children = []*Node{doNode}

	t := &Tree{Name: name, Version: version, Root: root, byPosition: make(map[string]*Node)}
	index(t, root)
	return t, nil
}

func index(t *Tree, n *Node) {
	t.byPosition[n.Position.String()] = n
	for _, c := range n.Children {
		index(t, c)
	}
}

// buildDoChildren builds the children of a Do node: one node per list item,
// indexed in document order, each annotated with the item's task name.
func buildDoChildren(doPos position.Position, items []map[string]any, parent *Node) ([]*Node, error) {
	out := make([]*Node, 0, len(items))
	for i, item := range items {
		if len(item) != 1 {
			return nil, configErr(doPos.ChildIndex(i), "task list item must have exactly one name key, got %d", len(item))
		}
		var name string
		var def map[string]any
		for k, v := range item {
			name = k
			m, ok := v.(map[string]any)
			if !ok {
				return nil, configErr(doPos.ChildIndex(i), "task %q definition must be an object", k)
			}
			def = m
		}
		child, err := parseTaskItem(doPos.ChildIndex(i), name, def, parent)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// parseTaskItem builds the Node for one task list entry at itemPos. A
// nested Do task's own position carries an extra trailing "do" token, per
// the Do children rule; every other kind's position is itemPos unchanged.
func parseTaskItem(itemPos position.Position, name string, def map[string]any, parent *Node) (*Node, error) {
	kind, err := detectKind(itemPos, def)
	if err != nil {
		return nil, err
	}

	pos := itemPos
	if kind == Do {
		pos = itemPos.Child("do")
	}

	n := &Node{Position: pos, Kind: kind, Name: name, Parent: parent, RawTask: def}
	applyCommon(n, def)

	switch kind {
	case Do:
		items, _ := def["do"].([]any)
		list, err := asTaskList(pos, items)
		if err != nil {
			return nil, err
		}
		children, err := buildDoChildren(pos, list, n)
		if err != nil {
			return nil, err
		}
		n.Children = children

	case Switch:
		cases, err := parseSwitch(pos, def["switch"])
		if err != nil {
			return nil, err
		}
		n.Switch = cases

	case For:
		spec, err := parseFor(pos, def["for"])
		if err != nil {
			return nil, err
		}
		n.For = spec
		child, err := buildSingleDoChild(pos, def, n)
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.Children = []*Node{child}
		}

	case Try:
		spec, tryList, catchList, err := parseTry(pos, def["try"], def["catch"])
		if err != nil {
			return nil, err
		}
		n.Try = spec
		tryDoPos := pos.Child("try").Child("do")
		tryChildren, err := buildDoChildren(tryDoPos, tryList, n)
		if err != nil {
			return nil, err
		}
		tryDo := &Node{Position: tryDoPos, Kind: Do, Name: "do", Parent: n, Children: tryChildren}
		n.Children = append(n.Children, tryDo)
		if catchList != nil {
			catchDoPos := pos.Child("catch").Child("do")
			catchChildren, err := buildDoChildren(catchDoPos, catchList, n)
			if err != nil {
				return nil, err
			}
			catchDo := &Node{Position: catchDoPos, Kind: Do, Name: "do", Parent: n, Children: catchChildren}
			n.Children = append(n.Children, catchDo)
		}

	case Fork:
		children, err := parseFork(pos, def["fork"], n)
		if err != nil {
			return nil, err
		}
		n.Children = children

	case Listen:
		n.Call = &CallSpec{Raw: mapOf(def["listen"])}
		child, err := buildForeachChild(pos, def, n)
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.Children = []*Node{child}
		}

	case CallAsync:
		n.Call = &CallSpec{Raw: mapOf(def["call"]), Endpoint: def["with"]}
		child, err := buildAsyncForeachChild(pos, def, n)
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.Children = []*Node{child}
		}

	case CallHTTP, CallGRPC, CallOpenAPI, CallFunction:
		spec, err := parseCall(pos, kind, def)
		if err != nil {
			return nil, err
		}
		n.Call = spec

	case Run:
		spec, err := parseRun(pos, def["run"])
		if err != nil {
			return nil, err
		}
		n.Call = spec

	case Set:
		n.Set = def["set"]

	case Raise:
		spec, err := parseRaise(pos, def["raise"])
		if err != nil {
			return nil, err
		}
		n.Raise = spec

	case Emit:
		n.Call = &CallSpec{Raw: mapOf(def["emit"])}

	case Wait:
		spec, err := parseWait(pos, def["wait"])
		if err != nil {
			return nil, err
		}
		n.Wait = spec
	}

	return n, nil
}

// buildSingleDoChild builds the <pos>/do child shared by For-kind nodes.
func buildSingleDoChild(pos position.Position, def map[string]any, parent *Node) (*Node, error) {
	items, ok := def["do"].([]any)
	if !ok {
		return nil, nil
	}
	list, err := asTaskList(pos, items)
	if err != nil {
		return nil, err
	}
	doPos := pos.Child("do")
	children, err := buildDoChildren(doPos, list, parent)
	if err != nil {
		return nil, err
	}
	return &Node{Position: doPos, Kind: Do, Name: "do", Parent: parent, Children: children}, nil
}

// buildForeachChild builds the optional <pos>/foreach/do child of a Listen
// task.
func buildForeachChild(pos position.Position, def map[string]any, parent *Node) (*Node, error) {
	foreach, ok := def["foreach"].(map[string]any)
	if !ok {
		return nil, nil
	}
	items, ok := foreach["do"].([]any)
	if !ok {
		return nil, nil
	}
	list, err := asTaskList(pos, items)
	if err != nil {
		return nil, err
	}
	doPos := pos.Child("foreach").Child("do")
	children, err := buildDoChildren(doPos, list, parent)
	if err != nil {
		return nil, err
	}
	return &Node{Position: doPos, Kind: Do, Name: "do", Parent: parent, Children: children}, nil
}

// buildAsyncForeachChild builds the optional
// <pos>/with/subscription/foreach/do child of a CallAsync task.
func buildAsyncForeachChild(pos position.Position, def map[string]any, parent *Node) (*Node, error) {
	with, ok := def["with"].(map[string]any)
	if !ok {
		return nil, nil
	}
	sub, ok := with["subscription"].(map[string]any)
	if !ok {
		return nil, nil
	}
	foreach, ok := sub["foreach"].(map[string]any)
	if !ok {
		return nil, nil
	}
	items, ok := foreach["do"].([]any)
	if !ok {
		return nil, nil
	}
	list, err := asTaskList(pos, items)
	if err != nil {
		return nil, err
	}
	doPos := pos.Child("with").Child("subscription").Child("foreach").Child("do")
	children, err := buildDoChildren(doPos, list, parent)
	if err != nil {
		return nil, err
	}
	return &Node{Position: doPos, Kind: Do, Name: "do", Parent: parent, Children: children}, nil
}

func parseFork(pos position.Position, raw any, parent *Node) ([]*Node, error) {
	forkDef, ok := raw.(map[string]any)
	if !ok {
		return nil, configErr(pos, "fork task missing 'fork' object")
	}
	branches, ok := forkDef["branches"].([]any)
	if !ok {
		return nil, configErr(pos, "fork task missing 'branches' list")
	}
	basePos := pos.Child("fork").Child("branches")
	out := make([]*Node, 0, len(branches))
	for i, raw := range branches {
		item, ok := raw.(map[string]any)
		if !ok || len(item) != 1 {
			return nil, configErr(basePos.ChildIndex(i), "fork branch must have exactly one name key")
		}
		var name string
		var def map[string]any
		for k, v := range item {
			name = k
			def, _ = v.(map[string]any)
		}
		branchPos := basePos.ChildIndex(i).Child(name)
		child, err := parseTaskItem(branchPos, name, def, parent)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func parseSwitch(pos position.Position, raw any) ([]SwitchCase, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, configErr(pos, "switch task missing 'switch' list")
	}
	out := make([]SwitchCase, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok || len(item) != 1 {
			return nil, configErr(pos, "switch case must have exactly one name key")
		}
		for name, v := range item {
			caseDef, _ := v.(map[string]any)
			sc := SwitchCase{Name: name}
			if w, ok := caseDef["when"].(string); ok {
				sc.When = w
			}
			if t, ok := caseDef["then"]; ok {
				sc.Then = thenOf(t)
			}
			out = append(out, sc)
		}
	}
	return out, nil
}

func parseFor(pos position.Position, raw any) (*ForSpec, error) {
	def, ok := raw.(map[string]any)
	if !ok {
		return nil, configErr(pos, "for task missing 'for' object")
	}
	spec := &ForSpec{Each: "each", At: "index"}
	if v, ok := def["each"].(string); ok {
		spec.Each = v
	}
	if v, ok := def["in"].(string); ok {
		spec.In = v
	}
	if v, ok := def["at"].(string); ok {
		spec.At = v
	}
	if v, ok := def["while"].(string); ok {
		spec.While = v
	}
	return spec, nil
}

func parseTry(pos position.Position, tryRaw, catchRaw any) (*TrySpec, []map[string]any, []map[string]any, error) {
	tryItems, ok := tryRaw.([]any)
	if !ok {
		return nil, nil, nil, configErr(pos, "try task missing 'try' list")
	}
	tryList, err := asTaskList(pos, tryItems)
	if err != nil {
		return nil, nil, nil, err
	}

	spec := &TrySpec{CatchAs: "error"}
	var catchList []map[string]any

	if catchDef, ok := catchRaw.(map[string]any); ok {
		if errDef, ok := catchDef["errors"].(map[string]any); ok {
			if v, ok := errDef["with"].(map[string]any); ok {
				if t, ok := v["type"].(string); ok {
					spec.CatchErrorType = t
				}
				if s, ok := v["status"].(int); ok {
					spec.CatchErrorStatus = s
				}
			}
		}
		if v, ok := catchDef["as"].(string); ok {
			spec.CatchAs = v
		}
		if v, ok := catchDef["when"].(string); ok {
			spec.CatchWhen = v
		}
		if v, ok := catchDef["exceptWhen"].(string); ok {
			spec.CatchExceptWhen = v
		}
		if r, ok := catchDef["retry"].(map[string]any); ok {
			spec.Retry = parseRetry(r)
		}
		if items, ok := catchDef["do"].([]any); ok {
			catchList, err = asTaskList(pos, items)
			if err != nil {
				return nil, nil, nil, err
			}
		}
	}

	return spec, tryList, catchList, nil
}

func parseRetry(def map[string]any) *RetryPolicy {
	rp := &RetryPolicy{BackoffMultiplier: 2.0}
	if limit, ok := def["limit"].(map[string]any); ok {
		if attempt, ok := limit["attempt"].(map[string]any); ok {
			if c, ok := attempt["count"].(int); ok {
				rp.LimitAttemptCount = c
			}
		}
		if d, ok := limit["duration"].(string); ok {
			rp.LimitDuration = d
		}
	}
	if d, ok := def["delay"].(string); ok {
		rp.Delay = d
	}
	if b, ok := def["backoff"].(map[string]any); ok {
		if exp, ok := b["exponential"].(map[string]any); ok {
			if m, ok := exp["multiplier"].(float64); ok {
				rp.BackoffMultiplier = m
			}
			if j, ok := exp["jitter"].(map[string]any); ok {
				if p, ok := j["percentage"].(float64); ok {
					rp.BackoffJitterPct = p
				}
			}
		}
	}
	if w, ok := def["when"].(string); ok {
		rp.When = w
	}
	if w, ok := def["exceptWhen"].(string); ok {
		rp.ExceptWhen = w
	}
	return rp
}

func parseRaise(pos position.Position, raw any) (*RaiseSpec, error) {
	def, ok := raw.(map[string]any)
	if !ok {
		return nil, configErr(pos, "raise task missing 'raise' object")
	}
	errDef, ok := def["error"].(map[string]any)
	if !ok {
		return nil, configErr(pos, "raise task missing 'error' object")
	}
	spec := &RaiseSpec{}
	if v, ok := errDef["type"].(string); ok {
		spec.ErrorType = v
	}
	if v, ok := errDef["status"].(int); ok {
		spec.ErrorStatus = v
	}
	if v, ok := errDef["title"].(string); ok {
		spec.ErrorTitle = v
	}
	if v, ok := errDef["detail"].(string); ok {
		spec.ErrorDetail = v
	}
	return spec, nil
}

func parseWait(pos position.Position, raw any) (*WaitSpec, error) {
	switch v := raw.(type) {
	case string:
		return &WaitSpec{Duration: v}, nil
	case map[string]any:
		if s, ok := v["duration"].(string); ok {
			return &WaitSpec{Duration: s}, nil
		}
	}
	return nil, configErr(pos, "wait task requires a duration")
}

func parseCall(pos position.Position, kind Kind, def map[string]any) (*CallSpec, error) {
	raw, ok := def["with"].(map[string]any)
	if !ok {
		raw = map[string]any{}
	}
	spec := &CallSpec{Raw: raw, OutputMode: "content"}
	if kind == CallHTTP {
		if v, ok := raw["endpoint"]; ok {
			spec.Endpoint = v
		}
		if v, ok := raw["method"].(string); ok {
			spec.Method = v
		}
		if v, ok := raw["headers"].(map[string]any); ok {
			spec.Headers = v
		}
		if v, ok := raw["query"].(map[string]any); ok {
			spec.Query = v
		}
		if v, ok := raw["body"]; ok {
			spec.Body = v
		}
		if v, ok := raw["output"].(string); ok {
			spec.OutputMode = v
		}
		if v, ok := raw["redirect"].(bool); ok {
			spec.Redirect = v
		}
	}
	return spec, nil
}

func parseRun(pos position.Position, raw any) (*CallSpec, error) {
	def, ok := raw.(map[string]any)
	if !ok {
		return nil, configErr(pos, "run task missing 'run' object")
	}
	spec := &CallSpec{Raw: def}
	if script, ok := def["script"].(map[string]any); ok {
		if v, ok := script["language"].(string); ok {
			spec.Language = v
		}
		if v, ok := script["code"].(string); ok {
			spec.Command = v
		}
	}
	if sh, ok := def["shell"].(map[string]any); ok {
		spec.Language = "sh"
		if v, ok := sh["command"].(string); ok {
			spec.Command = v
		}
		if args, ok := sh["arguments"].([]any); ok {
			spec.Args = args
		}
		if env, ok := sh["environment"].(map[string]any); ok {
			spec.Env = env
		}
	}
	return spec, nil
}

// applyCommon populates the fields shared by every task kind: if/then,
// input/output/export filters, and timeout.
func applyCommon(n *Node, def map[string]any) {
	if v, ok := def["if"].(string); ok {
		n.If = v
	}
	if v, ok := def["then"]; ok {
		n.Then = thenOf(v)
	}
	if v, ok := def["input"].(map[string]any); ok {
		n.Input = ioFilterFrom(v)
	}
	if v, ok := def["output"].(map[string]any); ok {
		n.Output = ioFilterFrom(v)
	}
	if v, ok := def["export"].(map[string]any); ok {
		n.Export = &ExportFilter{}
		if as, ok := v["as"].(string); ok {
			n.Export.As = as
		}
		if s, ok := v["schema"]; ok {
			n.Export.Schema = s
		}
	}
	if v, ok := def["timeout"].(map[string]any); ok {
		if d, ok := v["after"].(string); ok {
			n.Timeout = d
		}
	}
}

func ioFilterFrom(def map[string]any) *IOFilter {
	if def == nil {
		return nil
	}
	f := &IOFilter{}
	if from, ok := def["from"]; ok {
		if s, ok := from.(string); ok {
			f.From = s
		}
	}
	if s, ok := def["schema"]; ok {
		f.Schema = s
	}
	return f
}

// thenOf normalizes a `then` clause. A bare string is either a flow
// directive keyword or a sibling task name.
func thenOf(v any) string {
	s, _ := v.(string)
	return s
}

func mapOf(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asTaskList re-slices a generically-decoded YAML sequence of single-key
// task maps into the []map[string]any shape buildDoChildren expects.
func asTaskList(pos position.Position, items []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, configErr(pos, "task list item must be an object")
		}
		out = append(out, m)
	}
	return out, nil
}

// detectKind inspects which verb key is present in a task definition and
// maps it to a Kind. Exactly one verb key is expected; an unrecognized or
// absent verb fails with CONFIGURATION.
func detectKind(pos position.Position, def map[string]any) (Kind, error) {
	switch {
	case has(def, "do"):
		return Do, nil
	case has(def, "switch"):
		return Switch, nil
	case has(def, "for"):
		return For, nil
	case has(def, "try"):
		return Try, nil
	case has(def, "fork"):
		return Fork, nil
	case has(def, "listen"):
		return Listen, nil
	case has(def, "set"):
		return Set, nil
	case has(def, "raise"):
		return Raise, nil
	case has(def, "wait"):
		return Wait, nil
	case has(def, "emit"):
		return Emit, nil
	case has(def, "run"):
		return Run, nil
	case has(def, "call"):
		name, _ := def["call"].(string)
		switch name {
		case "http":
			return CallHTTP, nil
		case "grpc":
			return CallGRPC, nil
		case "openapi":
			return CallOpenAPI, nil
		case "asyncapi":
			return CallAsync, nil
		default:
			return CallFunction, nil
		}
	default:
		return "", configErr(pos, "unrecognized task kind: no known verb key present")
	}
}

func has(def map[string]any, key string) bool {
	_, ok := def[key]
	return ok
}

func configErr(pos position.Position, format string, args ...any) error {
	return werror.Newf(werror.Configuration, pos, format, args...)
}
