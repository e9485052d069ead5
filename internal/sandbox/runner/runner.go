// Package runner turns language templates into engine invocations for the
// build, run and version stages.
package runner

import (
	"context"

	"compilebox/internal/sandbox/profile"
	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/spec"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	JobID    string
	WorkDir  string
	Sources  []string
	Language profile.LanguageSpec
	Profile  profile.TaskProfile
	Limits   spec.ResourceLimit
}

// RunRequest describes one execution task.
type RunRequest struct {
	JobID    string
	WorkDir  string
	Entry    string
	Language profile.LanguageSpec
	Profile  profile.TaskProfile
	Limits   spec.ResourceLimit
	Debug    bool
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.ProcessOutcome, error)
	Run(ctx context.Context, req RunRequest) (result.ProcessOutcome, error)
	Version(ctx context.Context, lang profile.LanguageSpec) (string, error)
}
