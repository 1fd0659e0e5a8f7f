package envelope

import (
	"encoding/json"
	"testing"

	"github.com/workflowrt/engine/pkg/nodestate"
	"github.com/workflowrt/engine/pkg/position"
)

func TestRoundTrip(t *testing.T) {
	m := New("order-workflow", "1.0.0")
	st := nodestate.New()
	st.RawInput = map[string]any{"customerId": "c-1"}
	m = m.WithState(position.New("do", "0"), st)

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Name != m.Name || decoded.Version != m.Version {
		t.Fatalf("name/version mismatch: %+v", decoded)
	}
	if !decoded.Position.Equal(m.Position) {
		t.Fatalf("position mismatch")
	}
	for pos, want := range m.States {
		got, ok := decoded.States[pos]
		if !ok {
			t.Fatalf("missing state at %s", pos)
		}
		if got.ChildIndex != want.ChildIndex || got.ForIndex != want.ForIndex {
			t.Fatalf("state mismatch at %s: %+v vs %+v", pos, got, want)
		}
	}
}

func TestShortKeyStability(t *testing.T) {
	m := New("w", "1")
	st := nodestate.New()
	st.RawInput = ""
	m = m.WithState(position.Root, st)

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if generic["n"] != "w" || generic["v"] != "1" || generic["p"] != "" {
		t.Fatalf("top-level short keys wrong: %v", generic)
	}
	s, ok := generic["s"].(map[string]any)
	if !ok {
		t.Fatalf("s is not an object: %v", generic["s"])
	}
	root, ok := s[""].(map[string]any)
	if !ok {
		t.Fatalf("missing root state: %v", s)
	}
	if _, ok := root["in"]; !ok {
		t.Fatalf("expected 'in' key present for empty-string input, got %v", root)
	}
	if len(root) != 1 {
		t.Fatalf("expected only 'in' key for default-valued state, got %v", root)
	}
}
