// Package worker consumes queued jobs and runs them through the execution
// pipeline. Several workers may consume the same queue; job status acts as
// the idempotency guard for redelivered messages.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/queue"
	"github.com/pennyroute/pennyroute/internal/store"
)

type Worker struct {
	transport   queue.Transport
	store       store.Store
	pipe        *pipeline.Pipeline
	concurrency int
}

func New(transport queue.Transport, st store.Store, pipe *pipeline.Pipeline, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{transport: transport, store: st, pipe: pipe, concurrency: concurrency}
}

// Run consumes until ctx is canceled. It returns after in-flight jobs
// finish.
func (w *Worker) Run(ctx context.Context) error {
	ch, err := w.transport.Consume(ctx)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range ch {
				w.handle(ctx, d)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	var req pipeline.Request
	if err := json.Unmarshal(d.Body, &req); err != nil {
		slog.Error("dropping malformed job message", "job_id", d.JobID, "error", err)
		_ = d.Ack()
		return
	}

	job, err := w.store.GetJob(ctx, d.JobID)
	if err != nil {
		slog.Warn("job lookup failed, requeueing", "job_id", d.JobID, "error", err)
		_ = d.Nack()
		return
	}
	if job == nil {
		slog.Error("dropping message for unknown job", "job_id", d.JobID)
		_ = d.Ack()
		return
	}
	// Redelivered messages for jobs already past queued are duplicates.
	if job.Status != store.StatusQueued {
		slog.Info("skipping redelivered job", "job_id", d.JobID, "status", job.Status)
		_ = d.Ack()
		return
	}

	if _, err := w.pipe.Run(ctx, *job, req); err != nil {
		slog.Warn("job failed", "job_id", d.JobID, "error", err)
	}
	// Both outcomes are terminal states; the message is done either way.
	_ = d.Ack()
}
