// Package repository publishes job lifecycle events for async consumers.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"compilebox/internal/common/mq"
	"compilebox/internal/sandbox"
	"compilebox/internal/sandbox/result"
	appErr "compilebox/pkg/errors"
)

// JobEventType separates progress events from the final one.
type JobEventType string

const (
	JobEventProgress JobEventType = "progress"
	JobEventFinal    JobEventType = "final"
)

// JobEvent is the JSON body published for each state change.
type JobEvent struct {
	Type       JobEventType      `json:"type"`
	JobID      string            `json:"job_id"`
	State      result.JobState   `json:"state"`
	Language   string            `json:"language"`
	Isolation  string            `json:"isolation"`
	ReceivedAt int64             `json:"received_at"`
	FinishedAt int64             `json:"finished_at,omitempty"`
	Result     *result.JobResult `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
}

// JobEventPublisher sends job state changes to a message queue. It satisfies
// sandbox.StatusReporter.
type JobEventPublisher struct {
	producer    mq.Producer
	topic       string
	finalOnly   bool
	sendTimeout time.Duration
}

// NewJobEventPublisher creates a publisher. With finalOnly set, progress
// states are dropped and only terminal results are sent.
func NewJobEventPublisher(producer mq.Producer, topic string, finalOnly bool, sendTimeout time.Duration) *JobEventPublisher {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	return &JobEventPublisher{
		producer:    producer,
		topic:       topic,
		finalOnly:   finalOnly,
		sendTimeout: sendTimeout,
	}
}

// ReportStatus publishes one update.
func (p *JobEventPublisher) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("job event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("job event topic is required")
	}
	if update.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	final := update.State.Terminal()
	if p.finalOnly && !final {
		return nil
	}

	event := JobEvent{
		Type:       JobEventProgress,
		JobID:      update.JobID,
		State:      update.State,
		Language:   update.Language,
		Isolation:  update.Isolation,
		ReceivedAt: update.ReceivedAt,
		FinishedAt: update.FinishedAt,
		CreatedAt:  time.Now().Unix(),
	}
	if final {
		event.Type = JobEventFinal
		event.Result = update.Result
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	message := &mq.Message{
		ID:   update.JobID,
		Body: payload,
		Headers: map[string]string{
			"type":  string(event.Type),
			"state": string(update.State),
		},
		Timestamp: time.Now(),
	}
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish job event failed")
	}
	return nil
}

var _ sandbox.StatusReporter = (*JobEventPublisher)(nil)
