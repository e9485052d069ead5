// Package spec describes one sandboxed process and its resource limits.
package spec

import "time"

// Stage identifies which phase of a job a process belongs to.
type Stage string

const (
	StageBuild   Stage = "build"
	StageRun     Stage = "run"
	StageVersion Stage = "version"
)

// ResourceLimit describes hard limits enforced by the isolation backend.
// Zero means "use the backend default".
type ResourceLimit struct {
	WallTimeMs int64 `yaml:"wallTimeMs"`
	MemoryMB   int64 `yaml:"memoryMB"`
	CPUMilli   int64 `yaml:"cpuMilli"` // 500 = half a CPU
	PIDs       int64 `yaml:"pids"`
	OutputKB   int64 `yaml:"outputKB"` // per captured stream
}

// WallTime returns the wall clock limit as a duration.
func (l ResourceLimit) WallTime() time.Duration {
	if l.WallTimeMs <= 0 {
		return 0
	}
	return time.Duration(l.WallTimeMs) * time.Millisecond
}

// Merge overlays the non-zero fields of override onto l.
func (l ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	if override.WallTimeMs > 0 {
		l.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		l.MemoryMB = override.MemoryMB
	}
	if override.CPUMilli > 0 {
		l.CPUMilli = override.CPUMilli
	}
	if override.PIDs > 0 {
		l.PIDs = override.PIDs
	}
	if override.OutputKB > 0 {
		l.OutputKB = override.OutputKB
	}
	return l
}

// RunSpec describes a single process launch.
type RunSpec struct {
	JobID string
	Stage Stage
	// WorkDir is the host workspace. Empty means the process needs no files.
	WorkDir string
	Cmd     []string
	Env     []string
	Limits  ResourceLimit
	// CollectArtifacts asks backends that do not share the host filesystem
	// to copy the resulting workspace back into WorkDir on success.
	CollectArtifacts bool
}
