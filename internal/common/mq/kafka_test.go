package mq

import (
	"context"
	"testing"
	"time"
)

func TestToKafkaMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &Message{
		ID:        "job-1",
		Body:      []byte(`{"state":"RUN_SUCCEEDED"}`),
		Headers:   map[string]string{"state": "RUN_SUCCEEDED", "language": "java"},
		Timestamp: ts,
	}
	km := toKafkaMessage("compile.jobs", msg)
	if string(km.Key) != "job-1" {
		t.Fatalf("expected key job-1, got %s", km.Key)
	}
	if km.Topic != "" {
		t.Fatalf("expected empty topic, got %s", km.Topic)
	}
	if !km.Time.Equal(ts) {
		t.Fatalf("expected time %v, got %v", ts, km.Time)
	}
	if len(km.Headers) != 4 {
		t.Fatalf("expected 4 headers, got %d", len(km.Headers))
	}
	if km.Headers[0].Key != "language" || km.Headers[1].Key != "state" {
		t.Fatalf("expected sorted caller headers, got %s %s", km.Headers[0].Key, km.Headers[1].Key)
	}
	if km.Headers[2].Key != headerID || string(km.Headers[2].Value) != "job-1" {
		t.Fatalf("expected id header, got %+v", km.Headers[2])
	}
}

func TestToKafkaMessageDefaultsTimestamp(t *testing.T) {
	before := time.Now()
	km := toKafkaMessage("t", &Message{Body: []byte("x")})
	if km.Time.Before(before) {
		t.Fatalf("expected timestamp to default to now, got %v", km.Time)
	}
	if len(km.Key) != 0 {
		t.Fatalf("expected empty key, got %q", km.Key)
	}
	if len(km.Headers) != 1 || km.Headers[0].Key != headerTimestamp {
		t.Fatalf("expected only timestamp header, got %+v", km.Headers)
	}
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewKafkaProducer(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()
	if p.config.BatchSize != 100 || p.config.WriteTimeout != 10*time.Second {
		t.Fatalf("expected defaults, got %+v", p.config)
	}
	if err := p.Publish(context.Background(), "", &Message{}); err == nil {
		t.Fatalf("expected topic error")
	}
	if err := p.PublishBatch(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected empty batch error")
	}
}
