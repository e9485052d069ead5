// Package sandbox defines the job-level entrypoint used by the compile service.
package sandbox

import (
	"context"
	"time"

	"compilebox/internal/sandbox/profile"
	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/source"
)

// Service runs one compile-and-run job to completion. It never returns an
// error: every failure is folded into the JobResult.
type Service interface {
	Execute(ctx context.Context, req JobRequest) result.JobResult
}

// JobRequest contains all data needed to execute one job.
type JobRequest struct {
	JobID string
	Units []source.Unit
	// Debug asks for the language debug arguments; honored only when the
	// deployment allows it.
	Debug bool
}

// Job is the in-flight record of one request.
type Job struct {
	ID        string
	Workspace string
	CreatedAt time.Time
	Deadline  time.Time
	Primary   string
	Isolation string
	State     result.JobState
}

// Config holds the per-deployment job settings.
type Config struct {
	Language       profile.LanguageSpec
	CompileProfile profile.TaskProfile
	RunProfile     profile.TaskProfile
	Source         source.Options
	AllowDebug     bool
}
