package testutil

import "testing"

func TestMustUnmarshalJSON(t *testing.T) {
	var v struct {
		Status string `json:"status"`
	}
	MustUnmarshalJSON(t, []byte(`{"status":"OK"}`), &v)
	if v.Status != "OK" {
		t.Fatalf("expected OK, got %q", v.Status)
	}
}

func TestRequireCommandsSkipsMissing(t *testing.T) {
	ran := false
	t.Run("missing", func(t *testing.T) {
		RequireCommands(t, "compilebox-no-such-binary")
		ran = true
	})
	if ran {
		t.Fatalf("expected subtest to be skipped")
	}
}
