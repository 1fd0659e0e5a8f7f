package position

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		pos  Position
		want string
	}{
		{Root, ""},
		{New("do", "1", "try", "catch", "do", "0"), "/do/1/try/catch/do/0"},
		{New("do", "0"), "/do/0"},
	}
	for _, tc := range cases {
		got := tc.pos.String()
		if got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
		reparsed := Parse(got)
		if !reparsed.Equal(tc.pos) {
			t.Errorf("Parse(%q) = %v, want %v", got, reparsed, tc.pos)
		}
	}
}

func TestChildAndParent(t *testing.T) {
	p := Root.Child("do").ChildIndex(1).Child("try")
	if p.String() != "/do/1/try" {
		t.Fatalf("got %q", p.String())
	}
	if p.Parent().String() != "/do/1" {
		t.Fatalf("parent = %q", p.Parent().String())
	}
	if !Root.Parent().Equal(Root) {
		t.Fatalf("root parent should be root")
	}
}

func TestIsValidName(t *testing.T) {
	valid := []string{"first", "second-step", "fetchUser"}
	for _, v := range valid {
		if !IsValidName(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	invalid := []string{"do", "try", "catch", "1", "0", "a/b", ""}
	for _, v := range invalid {
		if IsValidName(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestEscaping(t *testing.T) {
	p := New("weird~name", "a/b")
	s := p.String()
	if s != "/weird~0name/a~1b" {
		t.Fatalf("got %q", s)
	}
	back := Parse(s)
	if back.Segments()[0] != "weird~name" || back.Segments()[1] != "a/b" {
		t.Fatalf("round trip failed: %v", back.Segments())
	}
}
