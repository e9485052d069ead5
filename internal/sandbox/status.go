package sandbox

import (
	"context"

	"compilebox/internal/sandbox/result"
)

// StatusUpdate carries a job state change.
type StatusUpdate struct {
	JobID      string
	State      result.JobState
	Language   string
	Isolation  string
	ReceivedAt int64
	FinishedAt int64
	// Result is set once the job is terminal.
	Result *result.JobResult
}

// StatusReporter publishes job state changes.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}

type noopReporter struct{}

func (noopReporter) ReportStatus(context.Context, StatusUpdate) error { return nil }
