// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64)
	ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryBytes int64)
	ObserveJob(ctx context.Context, state string, timeMs int64)
	ObserveRejected(ctx context.Context, reason string)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64, int64) {}
func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64, int64)   {}
func (NoopMetricsRecorder) ObserveJob(context.Context, string, int64)                  {}
func (NoopMetricsRecorder) ObserveRejected(context.Context, string)                    {}
