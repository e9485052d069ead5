// Package contextkey holds the keys the logger reads from a context.
package contextkey

type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	JobID     key = "job_id"
)
