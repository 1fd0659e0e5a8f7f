package expr

import (
	"context"
	"testing"

	"github.com/workflowrt/engine/pkg/position"
)

func TestEvalBareJQ(t *testing.T) {
	e := New()
	scope := map[string]any{"user": map[string]any{"name": "ada"}}
	v, err := e.Eval(context.Background(), position.Root, ".user.name", scope)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != "ada" {
		t.Fatalf("expected ada, got %v", v)
	}
}

func TestEvalInterpolation(t *testing.T) {
	e := New()
	scope := map[string]any{"user": map[string]any{"name": "ada"}}
	v, err := e.Eval(context.Background(), position.Root, "hello ${.user.name}!", scope)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != "hello ada!" {
		t.Fatalf("expected interpolated string, got %v", v)
	}
}

func TestEvalLiteralPassthrough(t *testing.T) {
	e := New()
	v, err := e.Eval(context.Background(), position.Root, "received", map[string]any{})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != "received" {
		t.Fatalf("expected literal passthrough, got %v", v)
	}
}

func TestEvalTemplateObject(t *testing.T) {
	e := New()
	scope := map[string]any{"status": "approved"}
	tmpl := map[string]any{
		"label": "status is ${.status}",
		"code":  200,
	}
	v, err := e.Eval(context.Background(), position.Root, tmpl, scope)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", v)
	}
	if obj["label"] != "status is approved" || obj["code"] != 200 {
		t.Fatalf("unexpected template result: %+v", obj)
	}
}

func TestEvalBooleanMismatch(t *testing.T) {
	e := New()
	_, err := e.EvalBoolean(context.Background(), position.Root, ".status", map[string]any{"status": "approved"})
	if err == nil {
		t.Fatalf("expected EXPRESSION error for non-boolean result")
	}
}

func TestEvalBooleanMatch(t *testing.T) {
	e := New()
	b, err := e.EvalBoolean(context.Background(), position.Root, ".status == \"approved\"", map[string]any{"status": "approved"})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !b {
		t.Fatalf("expected true")
	}
}

func TestEvalListForIn(t *testing.T) {
	e := New()
	list, err := e.EvalList(context.Background(), position.Root, ".items", map[string]any{"items": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list))
	}
}

func TestCompiledQueryCached(t *testing.T) {
	e := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.Eval(ctx, position.Root, ".x", map[string]any{"x": i}); err != nil {
			t.Fatalf("eval %d: %v", i, err)
		}
	}
	if len(e.cache) != 1 {
		t.Fatalf("expected exactly one cached program, got %d", len(e.cache))
	}
}
