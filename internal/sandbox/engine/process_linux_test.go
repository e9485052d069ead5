//go:build linux

package engine

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"compilebox/internal/testutil"
)

func requireShell(t *testing.T) {
	t.Helper()
	testutil.RequireCommands(t, "sh")
}

func TestRunProcessCapturesExitCodeAndStreams(t *testing.T) {
	requireShell(t)
	res, err := RunProcess(context.Background(), ProcessSpec{
		Cmd:      []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
		WallTime: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 || string(res.Stdout) != "out\n" || string(res.Stderr) != "err\n" {
		t.Fatalf("unexpected result: code=%d stdout=%q stderr=%q", res.ExitCode, res.Stdout, res.Stderr)
	}
	if res.TimedOut || res.Truncated {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if res.MemoryBytes <= 0 {
		t.Fatalf("expected peak memory from rusage, got %d", res.MemoryBytes)
	}
}

func TestRunProcessTimeoutKillsWholeGroup(t *testing.T) {
	requireShell(t)
	start := time.Now()
	res, err := RunProcess(context.Background(), ProcessSpec{
		Cmd:      []string{"sh", "-c", "sleep 30 & echo $!; sleep 30"},
		WallTime: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("expected prompt kill, took %s", elapsed)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	if err != nil {
		t.Fatalf("parse background pid from %q: %v", res.Stdout, err)
	}
	assertGone(t, pid)
}

func TestRunProcessReapsBackgroundChildrenOnNormalExit(t *testing.T) {
	requireShell(t)
	res, err := RunProcess(context.Background(), ProcessSpec{
		Cmd:      []string{"sh", "-c", "sleep 30 >/dev/null 2>&1 & echo $!"},
		WallTime: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	assertGone(t, pid)
}

func TestRunProcessTruncatesWithoutBlocking(t *testing.T) {
	requireShell(t)
	res, err := RunProcess(context.Background(), ProcessSpec{
		Cmd:         []string{"sh", "-c", "head -c 1000000 /dev/zero; head -c 1000000 /dev/zero >&2"},
		WallTime:    10 * time.Second,
		OutputLimit: 1024,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("expected clean exit, got %+v", res)
	}
	if !res.Truncated || len(res.Stdout) != 1024 || len(res.Stderr) != 1024 {
		t.Fatalf("expected truncation to 1024 bytes, got stdout=%d stderr=%d", len(res.Stdout), len(res.Stderr))
	}
}

func TestRunProcessSignalExitCode(t *testing.T) {
	requireShell(t)
	res, err := RunProcess(context.Background(), ProcessSpec{
		Cmd:      []string{"sh", "-c", "kill -9 $$"},
		WallTime: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 137 || res.TimedOut {
		t.Fatalf("expected 137 without timeout, got %+v", res)
	}
}

func TestRunProcessStartFailure(t *testing.T) {
	_, err := RunProcess(context.Background(), ProcessSpec{Cmd: []string{"/nonexistent/compiler"}})
	if err == nil {
		t.Fatalf("expected start error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", err)
	}
}

func TestRunProcessContextCancelKills(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := RunProcess(ctx, ProcessSpec{Cmd: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 5*time.Second || res.ExitCode == 0 {
		t.Fatalf("expected the process to be killed, got %+v", res)
	}
	if !res.TimedOut {
		t.Fatalf("expected a deadline kill to be reported as a timeout, got %+v", res)
	}
}

func TestRunProcessCancelIsNotTimeout(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	res, err := RunProcess(ctx, ProcessSpec{Cmd: []string{"sleep", "30"}, WallTime: 10 * time.Second})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TimedOut || res.ExitCode == 0 {
		t.Fatalf("expected a killed, non-timeout result, got %+v", res)
	}
}

func TestRunProcessEnvIsScrubbed(t *testing.T) {
	requireShell(t)
	t.Setenv("COMPILEBOX_TEST_SECRET", "hunter2")
	res, err := RunProcess(context.Background(), ProcessSpec{
		Cmd:      []string{"sh", "-c", `echo "${COMPILEBOX_TEST_SECRET:-none} $EXTRA"`},
		Env:      []string{"EXTRA=yes", "malformed"},
		WallTime: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "none yes" {
		t.Fatalf("expected scrubbed env, got %q", got)
	}
}

// assertGone accepts a missing pid or a zombie waiting for init to reap it.
func assertGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := unix.Kill(pid, 0)
		if errors.Is(err, unix.ESRCH) || isZombie(pid) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("process %d survived the job", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func isZombie(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	stat := string(data)
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 || idx+2 >= len(stat) {
		return false
	}
	return stat[idx+2] == 'Z' || stat[idx+2] == 'X'
}
