package result

import (
	"fmt"
	"strings"
	"time"

	"compilebox/internal/sandbox/diagnostic"
	appErr "compilebox/pkg/errors"
)

// AssembleOptions carries the job facts the assembler needs beyond the outcomes.
type AssembleOptions struct {
	JobID        string
	BuildTimeout time.Duration
	RunTimeout   time.Duration
	// LaunchFailurePatterns are runtime stderr prefixes that mean the entry point never started.
	LaunchFailurePatterns []string
}

// Assemble merges the build outcome and the optional run outcome into a JobResult.
// It is pure: the same outcomes always give the same result.
func Assemble(build ProcessOutcome, run *ProcessOutcome, opts AssembleOptions) JobResult {
	res := JobResult{
		JobID:         opts.JobID,
		ExecutionTime: build.Duration.Milliseconds(),
		MemoryUsed:    build.MemoryBytes,
		Truncated:     build.Truncated,
	}

	if !build.Succeeded() {
		res.Stage = "build"
		res.ExitCode = build.ExitCode
		switch {
		case build.Kind == OutcomeStartFailed:
			res.Code = appErr.SandboxUnavailable
			res.Error = "Sandbox error: compiler failed to start: " + build.StartError
		case build.TimedOut:
			res.Code = appErr.ExecutionTimeout
			res.TimedOut = true
			res.ExitCode = TimedOutExitCode
			res.Error = fmt.Sprintf("Compilation timed out after %s", formatLimit(opts.BuildTimeout, build.Duration))
		default:
			res.Code = appErr.CompilationError
			text := diagnostic.Normalize(firstNonEmpty(strings.TrimSpace(build.Stderr), strings.TrimSpace(build.Stdout)))
			if text == "" {
				text = fmt.Sprintf("Compilation failed with exit code %d", build.ExitCode)
			}
			res.Error = text
			res.Diagnostics = diagnostic.Parse(text)
		}
		res.ErrorKind = res.Code.Kind()
		return res
	}

	if run == nil {
		res.Stage = "run"
		res.ExitCode = -1
		res.Code = appErr.SandboxUnavailable
		res.ErrorKind = res.Code.Kind()
		res.Error = "Sandbox error: execution stage did not run"
		return res
	}

	res.Stage = "run"
	res.ExecutionTime += run.Duration.Milliseconds()
	if run.MemoryBytes > res.MemoryUsed {
		res.MemoryUsed = run.MemoryBytes
	}
	res.Truncated = res.Truncated || run.Truncated
	res.ExitCode = run.ExitCode
	res.Output = strings.TrimSpace(run.Stdout)
	stderr := strings.TrimSpace(run.Stderr)

	switch {
	case run.Kind == OutcomeStartFailed:
		res.Code = appErr.SandboxUnavailable
		res.Output = ""
		res.Error = "Sandbox error: runtime failed to spawn: " + run.StartError
	case run.TimedOut:
		res.Code = appErr.ExecutionTimeout
		res.TimedOut = true
		res.ExitCode = TimedOutExitCode
		res.Error = fmt.Sprintf("Execution timed out after %s", formatLimit(opts.RunTimeout, run.Duration))
	case run.ExitCode != 0:
		if isLaunchFailure(stderr, opts.LaunchFailurePatterns) {
			res.Code = appErr.RuntimeLaunchFailed
			res.Error = "Runtime failed to start: " + stderr
		} else {
			res.Code = appErr.RuntimeError
			res.Error = stderr
			if res.Error == "" {
				res.Error = fmt.Sprintf("Program exited with code %d", run.ExitCode)
			}
		}
	default:
		res.Success = true
		res.Code = appErr.Success
		res.Error = ""
	}
	res.ErrorKind = res.Code.Kind()
	return res
}

func isLaunchFailure(stderr string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.HasPrefix(stderr, p) {
			return true
		}
	}
	return false
}

func formatLimit(limit, observed time.Duration) string {
	if limit <= 0 {
		limit = observed
	}
	return limit.Round(time.Millisecond).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
