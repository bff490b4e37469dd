package fingerprint

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Hello World", "hello world"},
		{"trims whitespace", "  hello  world \n", "hello  world"},
		{"already normal", "hello", "hello"},
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashEquivalentInputs(t *testing.T) {
	a := Hash("Hello World")
	b := Hash("  hello world ")
	if a != b {
		t.Errorf("equivalent inputs hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashDistinctInputs(t *testing.T) {
	if Hash("hello") == Hash("world") {
		t.Error("distinct inputs produced the same fingerprint")
	}
}
