package diagnostic_test

import (
	"testing"

	"compilebox/internal/sandbox/diagnostic"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "absolute host path",
			in:   "/var/lib/compilebox/job-1/Main.java:3: error: ';' expected",
			want: "Main.java:3: error: ';' expected",
		},
		{
			name: "container work dir",
			in:   "/work/Main.java:7: error: cannot find symbol",
			want: "Main.java:7: error: cannot find symbol",
		},
		{
			name: "nested package path",
			in:   "com/example/App.java:1: error: class, interface, enum, or record expected",
			want: "App.java:1: error: class, interface, enum, or record expected",
		},
		{
			name: "already short",
			in:   "Main.java:2: error: not a statement",
			want: "Main.java:2: error: not a statement",
		},
		{
			name: "multi line keeps context lines",
			in:   "/work/A.java:1: error: x\n        int x = ;\n                ^\n/work/B.java:9: error: y\n2 errors",
			want: "A.java:1: error: x\n        int x = ;\n                ^\nB.java:9: error: y\n2 errors",
		},
		{
			name: "no reference",
			in:   "error: file not found: Nope.java",
			want: "error: file not found: Nope.java",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := diagnostic.Normalize(tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	text := "Main.java:3: error: ';' expected\n        System.out.println(\"x\")\n                                ^\nUtil.java:10: error: cannot find symbol\n2 errors\n"
	diags := diagnostic.Parse(text)

	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	if diags[0].File != "Main.java" || diags[0].Line != 3 || diags[0].Message != "';' expected" {
		t.Fatalf("unexpected first diagnostic: %+v", diags[0])
	}
	if diags[1].File != "Util.java" || diags[1].Line != 10 || diags[1].Message != "cannot find symbol" {
		t.Fatalf("unexpected second diagnostic: %+v", diags[1])
	}
}

func TestParseIgnoresWarnings(t *testing.T) {
	if diags := diagnostic.Parse("Main.java:4: warning: [removal] Thread.stop()"); len(diags) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", diags)
	}
}
