package main

import (
	"testing"

	"github.com/google/shlex"
)

func TestQuoteArgsRoundTrip(t *testing.T) {
	args := []string{"compile", "code", `class A { String s = "it's"; }`, "debug=true"}
	tokens, err := shlex.Split(joinArgs(quoteArgs(args)))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(tokens) != len(args) {
		t.Fatalf("expected %d tokens, got %d: %q", len(args), len(tokens), tokens)
	}
	for i := range args {
		if tokens[i] != args[i] {
			t.Fatalf("expected %q, got %q", args[i], tokens[i])
		}
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
