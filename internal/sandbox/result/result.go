// Package result defines process outcomes, job results and the pure assembly between them.
package result

import (
	"time"

	"compilebox/internal/sandbox/diagnostic"
	"compilebox/internal/sandbox/spec"
	appErr "compilebox/pkg/errors"
)

// OutcomeKind tells a process that ran apart from one that never started.
type OutcomeKind string

const (
	OutcomeExited      OutcomeKind = "exited"
	OutcomeStartFailed OutcomeKind = "start_failed"
)

// TimedOutExitCode is reported for processes killed at their deadline.
const TimedOutExitCode = -1

// ProcessOutcome captures one spawned compiler or runtime process.
type ProcessOutcome struct {
	Stage       spec.Stage
	Kind        OutcomeKind
	ExitCode    int
	Stdout      string
	Stderr      string
	Duration    time.Duration
	MemoryBytes int64
	TimedOut    bool
	Truncated   bool
	// StartError describes why the process never ran. Set only for OutcomeStartFailed.
	StartError string
}

// Succeeded reports a clean zero exit within the deadline.
func (o ProcessOutcome) Succeeded() bool {
	return o.Kind == OutcomeExited && !o.TimedOut && o.ExitCode == 0
}

// StartFailed builds the outcome for a process that could not be spawned.
func StartFailed(stage spec.Stage, err error) ProcessOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ProcessOutcome{
		Stage:      stage,
		Kind:       OutcomeStartFailed,
		ExitCode:   -1,
		StartError: msg,
	}
}

// JobResult is the response for one compile-and-run job.
type JobResult struct {
	JobID         string                  `json:"jobId,omitempty"`
	Success       bool                    `json:"success"`
	Output        string                  `json:"output"`
	Error         string                  `json:"error"`
	ExitCode      int                     `json:"exitCode"`
	ExecutionTime int64                   `json:"executionTime"`
	MemoryUsed    int64                   `json:"memoryUsed"`
	Stage         string                  `json:"stage,omitempty"`
	ErrorKind     appErr.Kind             `json:"errorKind,omitempty"`
	TimedOut      bool                    `json:"timedOut"`
	Truncated     bool                    `json:"truncated,omitempty"`
	Diagnostics   []diagnostic.Diagnostic `json:"diagnostics,omitempty"`

	// Code drives the HTTP status; it is not part of the body.
	Code appErr.ErrorCode `json:"-"`
}

// Failure builds a result for a job that ended before any process ran.
func Failure(jobID string, err error) JobResult {
	e := appErr.GetError(err)
	stage := ""
	if e.Code.Kind() == appErr.KindInput {
		stage = "input"
	}
	return JobResult{
		JobID:     jobID,
		Success:   false,
		Error:     e.Error(),
		ExitCode:  -1,
		Stage:     stage,
		ErrorKind: e.Code.Kind(),
		Code:      e.Code,
	}
}
