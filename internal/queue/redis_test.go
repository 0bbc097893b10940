package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewRedis(context.Background(), "redis://"+mr.Addr(), "jobs", "worker-1")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery received")
	}
	return Delivery{}
}

func TestRedisPublishConsumeAck(t *testing.T) {
	q, mr := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, "job-1", []byte(`{"prompt":"hi"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	d := receive(t, ch)
	if d.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", d.JobID)
	}
	if string(d.Body) != `{"prompt":"hi"}` {
		t.Errorf("Body = %s", d.Body)
	}

	if err := d.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if items, _ := mr.List("jobs:working:worker-1"); len(items) != 0 {
		t.Errorf("working list still holds %v after ack", items)
	}
}

func TestRedisNackRedelivers(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, "job-2", []byte("payload")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	d := receive(t, ch)
	if err := d.Nack(); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	again := receive(t, ch)
	if again.JobID != "job-2" {
		t.Errorf("redelivered JobID = %q, want job-2", again.JobID)
	}
}

func TestRedisDropsMalformedMessage(t *testing.T) {
	q, mr := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A hand-pushed non-JSON entry must be discarded, not redelivered
	// forever, and must not linger on the working list.
	if _, err := mr.Lpush("jobs:pending", "not-json"); err != nil {
		t.Fatalf("Lpush: %v", err)
	}
	if err := q.Publish(ctx, "job-3", []byte("ok")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	d := receive(t, ch)
	if d.JobID != "job-3" {
		t.Errorf("JobID = %q, want job-3", d.JobID)
	}
	items, _ := mr.List("jobs:working:worker-1")
	for _, it := range items {
		if it == "not-json" {
			t.Error("malformed entry left on the working list")
		}
	}
}

func TestRedisReclaim(t *testing.T) {
	q, mr := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Simulate a crashed run that left a message on its working list.
	if _, err := mr.Lpush("jobs:working:worker-1", `{"job_id":"job-4","body":null}`); err != nil {
		t.Fatalf("Lpush: %v", err)
	}

	n, err := q.Reclaim(ctx)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d messages, want 1", n)
	}

	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if d := receive(t, ch); d.JobID != "job-4" {
		t.Errorf("JobID = %q, want job-4", d.JobID)
	}
}
