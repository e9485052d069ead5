// Package testutil holds small helpers shared by package tests.
package testutil

import (
	"encoding/json"
	"os/exec"
	"testing"
)

// RequireCommands skips the test unless every binary is on PATH.
func RequireCommands(t testing.TB, bins ...string) {
	t.Helper()
	for _, bin := range bins {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
}

// MustUnmarshalJSON unmarshals data or fails the test.
func MustUnmarshalJSON(t testing.TB, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal JSON %q: %v", data, err)
	}
}
