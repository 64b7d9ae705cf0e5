package compiler

import (
	"strings"
	"testing"
)

func warningsFor(t *testing.T, src string) []string {
	t.Helper()
	p := NewParser(src)
	m := p.ParseMethod()
	if len(p.Errors()) > 0 {
		t.Fatalf("ParseMethod(%q): %v", src, p.Errors())
	}
	return checkMethod(m)
}

func TestCheckMethodWarnings(t *testing.T) {
	tests := []struct {
		src  string
		want []string
	}{
		{"foo ^1", nil},
		{"foo: a | t | t := a. ^t", nil},
		{"foo | t | ^1", []string{"temporary t is never used"}},
		{"foo ^1. 2", []string{"unreachable code after return"}},
		{"foo: a ^[:a | a]", []string{"a shadows an outer variable"}},
		{"foo | t | ^[| t | t := 1. t]", []string{"t shadows an outer variable", "temporary t is never used"}},
		{"foo ^[:x | ^x. 3]", []string{"unreachable code after return"}},
		{"foo | t | ^[t]", nil},
	}
	for _, tc := range tests {
		got := warningsFor(t, tc.src)
		if len(got) != len(tc.want) {
			t.Errorf("%s: warnings = %v, want %v", tc.src, got, tc.want)
			continue
		}
		for i, w := range tc.want {
			if !strings.Contains(got[i], w) {
				t.Errorf("%s: warning %d = %q, want %q", tc.src, i, got[i], w)
			}
		}
	}
}

func TestCheckMethodPositions(t *testing.T) {
	got := warningsFor(t, "foo\n  ^1.\n  2")
	if len(got) != 1 || !strings.HasPrefix(got[0], "line 3, column 3:") {
		t.Errorf("warnings = %v", got)
	}
}
