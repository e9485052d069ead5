package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"compilebox/internal/common/mq"
	"compilebox/internal/sandbox"
	"compilebox/internal/sandbox/result"
	appErr "compilebox/pkg/errors"
)

type fakeProducer struct {
	topics   []string
	messages []*mq.Message
	err      error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestReportStatusFinal(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewJobEventPublisher(producer, "compile.jobs", false, 0)
	res := &result.JobResult{JobID: "j1", Success: true, Output: "hi"}
	err := pub.ReportStatus(context.Background(), sandbox.StatusUpdate{
		JobID:    "j1",
		State:    result.StateRunSucceeded,
		Language: "java",
		Result:   res,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(producer.messages) != 1 || producer.topics[0] != "compile.jobs" {
		t.Fatalf("expected one message on compile.jobs, got %d", len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.ID != "j1" || msg.Headers["type"] != string(JobEventFinal) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var event JobEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Result == nil || event.Result.Output != "hi" || event.State != result.StateRunSucceeded {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestReportStatusFinalOnlySkipsProgress(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewJobEventPublisher(producer, "compile.jobs", true, 0)
	for _, state := range []result.JobState{result.StateMaterialized, result.StateBuilding, result.StateBuildFailed} {
		if err := pub.ReportStatus(context.Background(), sandbox.StatusUpdate{JobID: "j2", State: state}); err != nil {
			t.Fatalf("report %s: %v", state, err)
		}
	}
	if len(producer.messages) != 1 {
		t.Fatalf("expected only the final event, got %d", len(producer.messages))
	}
}

func TestReportStatusProgressHasNoResult(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewJobEventPublisher(producer, "compile.jobs", false, 0)
	_ = pub.ReportStatus(context.Background(), sandbox.StatusUpdate{
		JobID:  "j3",
		State:  result.StateBuilding,
		Result: &result.JobResult{Output: "leak"},
	})
	var event JobEvent
	_ = json.Unmarshal(producer.messages[0].Body, &event)
	if event.Type != JobEventProgress || event.Result != nil {
		t.Fatalf("expected bare progress event, got %+v", event)
	}
}

func TestReportStatusErrors(t *testing.T) {
	var nilPub *JobEventPublisher
	if err := nilPub.ReportStatus(context.Background(), sandbox.StatusUpdate{JobID: "x"}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	if err := NewJobEventPublisher(&fakeProducer{}, "", false, 0).ReportStatus(context.Background(), sandbox.StatusUpdate{JobID: "x"}); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if err := NewJobEventPublisher(&fakeProducer{}, "t", false, 0).ReportStatus(context.Background(), sandbox.StatusUpdate{}); err == nil {
		t.Fatalf("expected validation error for empty job id")
	}
	failing := NewJobEventPublisher(&fakeProducer{err: errors.New("broker down")}, "t", false, 0)
	err := failing.ReportStatus(context.Background(), sandbox.StatusUpdate{JobID: "x", State: result.StateFailed})
	if !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
