package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// inheritedEnv lists the host variables a guest process may see.
var inheritedEnv = []string{"PATH", "HOME", "LANG", "LC_ALL", "JAVA_HOME", "TMPDIR"}

// ProcessSpec describes one host process invocation.
type ProcessSpec struct {
	Cmd []string
	Dir string
	Env []string
	// Stdin defaults to the null device.
	Stdin io.Reader
	// WallTime kills the process group once elapsed. Zero disables the timer.
	WallTime time.Duration
	// OutputLimit caps each of stdout and stderr.
	OutputLimit int64
	// WaitDelay bounds how long output is drained after the leader exits.
	WaitDelay time.Duration
}

// ProcessResult is what RunProcess observed.
type ProcessResult struct {
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	Duration    time.Duration
	MemoryBytes int64
	TimedOut    bool
	Truncated   bool
}

// RunProcess starts the command in its own process group, drains both
// streams while it runs and returns once the process and its group are gone.
// The returned error is non-nil only when the process could not be started.
func RunProcess(ctx context.Context, ps ProcessSpec) (ProcessResult, error) {
	if len(ps.Cmd) == 0 {
		return ProcessResult{}, errors.New("command is required")
	}
	limit := ps.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimitBytes
	}
	stdout := newLimitedBuffer(limit)
	stderr := newLimitedBuffer(limit)

	cmd := exec.Command(ps.Cmd[0], ps.Cmd[1:]...)
	cmd.Dir = ps.Dir
	cmd.Env = buildEnv(ps.Env)
	cmd.Stdin = ps.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = ps.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 500 * time.Millisecond
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ProcessResult{}, fmt.Errorf("start %s: %w", ps.Cmd[0], err)
	}
	pid := cmd.Process.Pid

	var timedOut atomic.Bool
	done := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		var wallTimer <-chan time.Time
		if ps.WallTime > 0 {
			timer := time.NewTimer(ps.WallTime)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				timedOut.Store(true)
			}
			killGroup(cmd, pid)
		case <-wallTimer:
			timedOut.Store(true)
			killGroup(cmd, pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	watcher.Wait()
	// Background children left by the guest die with the group.
	killGroup(cmd, pid)

	res := ProcessResult{
		ExitCode:    exitCode(waitErr, cmd.ProcessState),
		Stdout:      stdout.Bytes(),
		Stderr:      stderr.Bytes(),
		Duration:    time.Since(start),
		MemoryBytes: peakMemory(cmd.ProcessState),
		TimedOut:    timedOut.Load(),
		Truncated:   stdout.Truncated() || stderr.Truncated(),
	}
	if res.TimedOut {
		res.ExitCode = -1
	}
	return res, nil
}

func exitCode(err error, state *os.ProcessState) int {
	if state != nil {
		if code := signalExitCode(state); code != 0 {
			return code
		}
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func buildEnv(extra []string) []string {
	env := make([]string, 0, len(inheritedEnv)+len(extra))
	for _, key := range inheritedEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for _, kv := range extra {
		if strings.Contains(kv, "=") {
			env = append(env, kv)
		}
	}
	return env
}

// limitedBuffer keeps the first max bytes and silently drops the rest, so a
// chatty child never blocks on a full pipe.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int64
	truncated bool
}

func newLimitedBuffer(max int64) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - int64(len(b.buf))
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *limitedBuffer) String() string {
	return string(b.Bytes())
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
