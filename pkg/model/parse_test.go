package model

import "testing"

const sampleDoc = `
document:
  name: order-workflow
  version: "1.0.0"
do:
  - init:
      set:
        status: received
  - checkStatus:
      switch:
        - approved:
            when: .status == "approved"
            then: ship
        - default:
            then: reject
  - nested:
      do:
        - innerSet:
            set:
              a: 1
        - innerWait:
            wait:
              duration: PT1S
  - guarded:
      try:
        try:
          - callIt:
              call: http
              with:
                endpoint: https://example.test
                method: GET
        catch:
          as: err
          retry:
            limit:
              attempt:
                count: 3
            delay: PT1S
  - ship:
      set:
        shipped: true
  - reject:
      raise:
        error:
          type: https://example.test/errors/rejected
          status: 400
          title: rejected
`

func TestParseDocumentBasicShape(t *testing.T) {
	tree, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tree.Name != "order-workflow" || tree.Version != "1.0.0" {
		t.Fatalf("unexpected document identity: %+v", tree)
	}

	topDo := tree.Root.Children[0]
	if topDo.Kind != Do || topDo.Position.String() != "/do" {
		t.Fatalf("expected top-level do at /do, got %s (%s)", topDo.Position.String(), topDo.Kind)
	}
	if len(topDo.Children) != 6 {
		t.Fatalf("expected 6 top-level tasks, got %d", len(topDo.Children))
	}

	initNode := topDo.Children[0]
	if initNode.Kind != Set || initNode.Name != "init" || initNode.Position.String() != "/do/0" {
		t.Fatalf("unexpected init node: %+v", initNode)
	}

	switchNode := topDo.Children[1]
	if switchNode.Kind != Switch || len(switchNode.Switch) != 2 {
		t.Fatalf("unexpected switch node: %+v", switchNode)
	}
	if switchNode.Switch[0].Name != "approved" || switchNode.Switch[0].Then != "ship" {
		t.Fatalf("unexpected switch case: %+v", switchNode.Switch[0])
	}
}

func TestParseNestedDoTrailingToken(t *testing.T) {
	tree, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	topDo := tree.Root.Children[0]
	nested := topDo.Children[2]
	if nested.Kind != Do {
		t.Fatalf("expected nested Do, got %s", nested.Kind)
	}
	if nested.Position.String() != "/do/2/do" {
		t.Fatalf("expected trailing do token, got %s", nested.Position.String())
	}
	if len(nested.Children) != 2 {
		t.Fatalf("expected 2 nested children, got %d", len(nested.Children))
	}
	if nested.Children[0].Position.String() != "/do/2/do/0" {
		t.Fatalf("unexpected nested child position: %s", nested.Children[0].Position.String())
	}
	if nested.Children[1].Kind != Wait {
		t.Fatalf("expected second nested child to be Wait, got %s", nested.Children[1].Kind)
	}
}

func TestParseTryCatchPositions(t *testing.T) {
	tree, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	topDo := tree.Root.Children[0]
	tryNode := topDo.Children[3]
	if tryNode.Kind != Try {
		t.Fatalf("expected Try, got %s", tryNode.Kind)
	}
	if tryNode.Position.String() != "/do/3" {
		t.Fatalf("unexpected try position: %s", tryNode.Position.String())
	}
	tryDo := tryNode.TryChild()
	if tryDo == nil || tryDo.Position.String() != "/do/3/try/do" {
		t.Fatalf("unexpected try/do child: %+v", tryDo)
	}
	catchDo := tryNode.CatchChild()
	if catchDo == nil || catchDo.Position.String() != "/do/3/catch/do" {
		t.Fatalf("unexpected catch/do child: %+v", catchDo)
	}
	if tryNode.Try.CatchAs != "err" {
		t.Fatalf("expected catch binding 'err', got %q", tryNode.Try.CatchAs)
	}
	if tryNode.Try.Retry == nil || tryNode.Try.Retry.LimitAttemptCount != 3 {
		t.Fatalf("unexpected retry policy: %+v", tryNode.Try.Retry)
	}

	callNode := tryDo.Children[0]
	if callNode.Kind != CallHTTP {
		t.Fatalf("expected CallHTTP, got %s", callNode.Kind)
	}
	if callNode.Call == nil || callNode.Call.Method != "GET" {
		t.Fatalf("unexpected call spec: %+v", callNode.Call)
	}
}

func TestParseRaise(t *testing.T) {
	tree, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	topDo := tree.Root.Children[0]
	raiseNode := topDo.Children[5]
	if raiseNode.Kind != Raise {
		t.Fatalf("expected Raise, got %s", raiseNode.Kind)
	}
	if raiseNode.Raise == nil || raiseNode.Raise.ErrorStatus != 400 {
		t.Fatalf("unexpected raise spec: %+v", raiseNode.Raise)
	}
}

func TestTreeLookup(t *testing.T) {
	tree, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	topDo := tree.Root.Children[0]
	n, ok := tree.Lookup(topDo.Children[0].Position)
	if !ok || n.Name != "init" {
		t.Fatalf("lookup failed: %+v %v", n, ok)
	}
}

func TestParseMissingDoFails(t *testing.T) {
	_, err := ParseDocument([]byte("document:\n  name: x\n"))
	if err == nil {
		t.Fatalf("expected error for missing do block")
	}
}

func TestParseUnrecognizedKindFails(t *testing.T) {
	doc := `
do:
  - mystery:
      bogus: true
`
	_, err := ParseDocument([]byte(doc))
	if err == nil {
		t.Fatalf("expected error for unrecognized task kind")
	}
}
