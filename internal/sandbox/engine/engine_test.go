package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/spec"
	"compilebox/internal/testutil"
)

func TestLimitedBuffer(t *testing.T) {
	b := newLimitedBuffer(5)
	n, err := b.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("unexpected write: %d %v", n, err)
	}
	n, _ = b.Write([]byte("defgh"))
	if n != 5 {
		t.Fatalf("writes must report full length, got %d", n)
	}
	if b.String() != "abcde" || !b.Truncated() {
		t.Fatalf("expected abcde truncated, got %q %v", b.String(), b.Truncated())
	}
	_, _ = b.Write([]byte("x"))
	if b.String() != "abcde" {
		t.Fatalf("buffer grew past cap: %q", b.String())
	}
}

func TestNewEngineSelection(t *testing.T) {
	eng, err := NewEngine(Config{})
	if err != nil || eng.Name() != IsolationHost {
		t.Fatalf("expected host default, got %v %v", eng, err)
	}
	if _, err := NewEngine(Config{Isolation: "vm"}); err == nil {
		t.Fatalf("expected unknown isolation error")
	}
	if _, err := NewEngine(Config{Isolation: IsolationDocker, Docker: DockerConfig{Transfer: "ftp"}}); err == nil {
		t.Fatalf("expected unknown transfer error")
	}
}

func TestHostEngineValidatesSpec(t *testing.T) {
	eng := NewHostEngine(Config{})
	if _, err := eng.Run(context.Background(), spec.RunSpec{Stage: spec.StageBuild, WorkDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if _, err := eng.Run(context.Background(), spec.RunSpec{Stage: spec.StageRun, Cmd: []string{"true"}}); err == nil {
		t.Fatalf("expected error for missing work dir")
	}
}

func TestHostEngineStartFailureOutcome(t *testing.T) {
	eng := NewHostEngine(Config{})
	out, err := eng.Run(context.Background(), spec.RunSpec{
		Stage:   spec.StageBuild,
		WorkDir: t.TempDir(),
		Cmd:     []string{"definitely-not-a-compiler-binary"},
	})
	if err != nil {
		t.Fatalf("spawn failure must be an outcome, got error %v", err)
	}
	if out.Kind != result.OutcomeStartFailed || out.StartError == "" || out.Stage != spec.StageBuild {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestHostEngineRunsInWorkDir(t *testing.T) {
	testutil.RequireCommands(t, "sh")
	dir := t.TempDir()
	eng := NewHostEngine(Config{})
	out, err := eng.Run(context.Background(), spec.RunSpec{
		Stage:   spec.StageRun,
		WorkDir: dir,
		Cmd:     []string{"sh", "-c", "pwd; exit 2"},
		Limits:  spec.ResourceLimit{WallTimeMs: 5000},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 2 || !strings.HasSuffix(strings.TrimSpace(out.Stdout), dir[strings.LastIndex(dir, "/"):]) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Succeeded() {
		t.Fatalf("nonzero exit must not succeed")
	}
}

func TestBuildScript(t *testing.T) {
	cmd := []string{"javac", "-encoding", "UTF-8", "-d", ".", "Main.java"}
	tests := []struct {
		name            string
		stream, collect bool
		want            string
	}{
		{"bind", false, false, "exec timeout -s KILL 10 javac -encoding UTF-8 -d . Main.java"},
		{"stream run", true, false, "tar -xof - -C /work && exec timeout -s KILL 10 javac -encoding UTF-8 -d . Main.java"},
		{"stream build", true, true, "tar -xof - -C /work && timeout -s KILL 10 javac -encoding UTF-8 -d . Main.java 1>&2; rc=$?; [ $rc -eq 0 ] && tar -cf - -C /work .; exit $rc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildScript(cmd, 10*time.Second, tc.stream, tc.collect); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
	if got := buildScript([]string{"java"}, 1500*time.Millisecond, false, false); got != "exec timeout -s KILL 2 java" {
		t.Fatalf("expected rounded-up seconds, got %q", got)
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"Main.java":                     "Main.java",
		"":                              "''",
		"a b":                           "'a b'",
		"it's":                          `'it'\''s'`,
		"$(rm -rf /)":                   "'$(rm -rf /)'",
		"-agentlib:jdwp=address=*:5005": "'-agentlib:jdwp=address=*:5005'",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Fatalf("shellQuote(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestContainerConfig(t *testing.T) {
	eng := &DockerEngine{cfg: Config{Isolation: IsolationDocker}.WithDefaults()}
	rs := spec.RunSpec{JobID: "job-1", Stage: spec.StageRun, WorkDir: "/tmp/ws", Cmd: []string{"java", "Main"}}

	cfg, host := eng.containerConfig(rs, "exec java Main")
	if cfg.Image != "eclipse-temurin:24-alpine" || !cfg.NetworkDisabled || !cfg.OpenStdin || !cfg.StdinOnce {
		t.Fatalf("unexpected container config: %+v", cfg)
	}
	if host.NetworkMode != "none" || !host.ReadonlyRootfs || host.CapDrop[0] != "ALL" {
		t.Fatalf("unexpected isolation: %+v", host)
	}
	if host.Memory != 128<<20 || host.MemorySwap != host.Memory || host.NanoCPUs != 500_000_000 || *host.PidsLimit != 64 {
		t.Fatalf("unexpected resources: %+v", host.Resources)
	}
	if _, ok := host.Tmpfs["/work"]; !ok || len(host.Mounts) != 0 {
		t.Fatalf("stream mode needs a /work tmpfs and no bind mount")
	}

	eng.cfg.Docker.Transfer = TransferBind
	rs.Limits = spec.ResourceLimit{MemoryMB: 256}
	cfg, host = eng.containerConfig(rs, "exec java Main")
	if cfg.OpenStdin || len(host.Mounts) != 1 || host.Mounts[0].Source != "/tmp/ws" || host.Mounts[0].Target != "/work" {
		t.Fatalf("unexpected bind config: %+v %+v", cfg, host.Mounts)
	}
	if _, ok := host.Tmpfs["/work"]; ok {
		t.Fatalf("bind mode must not shadow /work with tmpfs")
	}
	if host.Memory != 256<<20 {
		t.Fatalf("expected per-run memory override, got %d", host.Memory)
	}
}
