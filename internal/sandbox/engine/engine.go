// Package engine runs one sandboxed process per RunSpec on the configured backend.
package engine

import (
	"context"
	"fmt"
	"time"

	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/spec"
)

const (
	IsolationHost   = "host"
	IsolationDocker = "docker"

	TransferStream = "stream"
	TransferBind   = "bind"
)

const (
	defaultOutputLimitBytes int64 = 64 * 1024
	defaultWallTime               = 10 * time.Second
	defaultKillGrace              = 2 * time.Second
)

// Engine executes a RunSpec inside an isolated sandbox.
//
// Run returns an error only for a malformed spec or a failure of the
// backend after the process ran. A process that cannot be spawned is
// reported as a start_failed outcome.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.ProcessOutcome, error)
	Name() string
}

// Preparer is implemented by engines that need warm-up before serving.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Config controls sandbox engine behavior.
type Config struct {
	Isolation string `yaml:"isolation"`
	// OutputLimitBytes caps each captured stream. Excess output is dropped.
	OutputLimitBytes int64         `yaml:"outputLimitBytes"`
	KillGrace        time.Duration `yaml:"killGrace"`
	Docker           DockerConfig  `yaml:"docker"`
}

// DockerConfig configures the container backend.
type DockerConfig struct {
	Host             string `yaml:"host"`
	Image            string `yaml:"image"`
	Transfer         string `yaml:"transfer"`
	User             string `yaml:"user"`
	PullOnStart      bool   `yaml:"pullOnStart"`
	MemoryMB         int64  `yaml:"memoryMB"`
	CPUMilli         int64  `yaml:"cpuMilli"`
	PIDs             int64  `yaml:"pids"`
	TmpfsSizeMB      int64  `yaml:"tmpfsSizeMB"`
	MaxArtifactBytes int64  `yaml:"maxArtifactBytes"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Isolation == "" {
		c.Isolation = IsolationHost
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = defaultOutputLimitBytes
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	d := &c.Docker
	if d.Image == "" {
		d.Image = "eclipse-temurin:24-alpine"
	}
	if d.Transfer == "" {
		d.Transfer = TransferStream
	}
	if d.MemoryMB <= 0 {
		d.MemoryMB = 128
	}
	if d.CPUMilli <= 0 {
		d.CPUMilli = 500
	}
	if d.PIDs <= 0 {
		d.PIDs = 64
	}
	if d.TmpfsSizeMB <= 0 {
		d.TmpfsSizeMB = 64
	}
	if d.MaxArtifactBytes <= 0 {
		d.MaxArtifactBytes = 32 << 20
	}
	return c
}

// NewEngine builds the backend named by cfg.Isolation.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Isolation {
	case IsolationHost:
		return NewHostEngine(cfg), nil
	case IsolationDocker:
		if cfg.Docker.Transfer != TransferStream && cfg.Docker.Transfer != TransferBind {
			return nil, fmt.Errorf("unknown docker transfer mode %q", cfg.Docker.Transfer)
		}
		return NewDockerEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown isolation %q", cfg.Isolation)
	}
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if runSpec.Stage != spec.StageVersion && runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

func wallLimit(limits spec.ResourceLimit) time.Duration {
	if d := limits.WallTime(); d > 0 {
		return d
	}
	return defaultWallTime
}

func outputLimit(cfg Config, limits spec.ResourceLimit) int64 {
	if limits.OutputKB > 0 {
		return limits.OutputKB * 1024
	}
	return cfg.OutputLimitBytes
}
