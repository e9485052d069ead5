package engine

import (
	"context"

	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/spec"
)

// HostEngine runs commands directly on the host in their own process group.
// It bounds wall time and output but not memory, so it is meant for trusted
// or internal deployments.
type HostEngine struct {
	cfg Config
}

// NewHostEngine creates a host process engine.
func NewHostEngine(cfg Config) *HostEngine {
	return &HostEngine{cfg: cfg.WithDefaults()}
}

func (e *HostEngine) Name() string {
	return IsolationHost
}

func (e *HostEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.ProcessOutcome, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.ProcessOutcome{}, err
	}
	res, err := RunProcess(ctx, ProcessSpec{
		Cmd:         runSpec.Cmd,
		Dir:         runSpec.WorkDir,
		Env:         runSpec.Env,
		WallTime:    wallLimit(runSpec.Limits),
		OutputLimit: outputLimit(e.cfg, runSpec.Limits),
		WaitDelay:   e.cfg.KillGrace,
	})
	if err != nil {
		return result.StartFailed(runSpec.Stage, err), nil
	}
	return result.ProcessOutcome{
		Stage:       runSpec.Stage,
		Kind:        result.OutcomeExited,
		ExitCode:    res.ExitCode,
		Stdout:      string(res.Stdout),
		Stderr:      string(res.Stderr),
		Duration:    res.Duration,
		MemoryBytes: res.MemoryBytes,
		TimedOut:    res.TimedOut,
		Truncated:   res.Truncated,
	}, nil
}
