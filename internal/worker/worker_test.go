package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/queue"
	"github.com/pennyroute/pennyroute/internal/routing"
	"github.com/pennyroute/pennyroute/internal/store"
	"github.com/pennyroute/pennyroute/internal/tokens"
)

const workerCatalog = `
models:
  - provider: test
    model: only
    price_in_per_1k: 0
    price_out_per_1k: 0
    max_input_tokens: 8192
    max_output_tokens: 2048
    baseline_quality: 2
`

type countingAdapter struct {
	calls atomic.Int64
}

func (a *countingAdapter) Name() string { return "test" }

func (a *countingAdapter) Complete(context.Context, string, providers.CompletionRequest) (providers.Completion, error) {
	a.calls.Add(1)
	return providers.Completion{Text: "done", TokensIn: 10, TokensOut: 5}, nil
}

func newTestWorker(t *testing.T) (*Worker, *store.SQLiteStore, *queue.Memory, *countingAdapter) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	tab, err := catalog.Parse([]byte(workerCatalog), "test")
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	src := catalog.NewSource(tab)
	adapter := &countingAdapter{}
	pipe := pipeline.New(st, routing.NewPolicy(src, &tokens.Estimator{}), src,
		map[string]providers.Adapter{"test": adapter}, nil)

	q := queue.NewMemory(16)
	t.Cleanup(func() { _ = q.Close() })
	return New(q, st, pipe, 2), st, q, adapter
}

func waitForStatus(t *testing.T, st store.Store, id string, want store.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job != nil && job.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
}

func TestWorkerProcessesQueuedJob(t *testing.T) {
	w, st, q, adapter := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	job := store.Job{ID: "j1", TaskType: "summary", Status: store.StatusQueued}
	if _, _, err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	body, _ := json.Marshal(pipeline.Request{Prompt: "hello"})
	if err := q.Publish(ctx, "j1", body); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitForStatus(t, st, "j1", store.StatusSucceeded)
	if adapter.calls.Load() != 1 {
		t.Errorf("provider calls = %d", adapter.calls.Load())
	}
	costs, err := st.ListJobCosts(context.Background(), "j1")
	if err != nil {
		t.Fatalf("ListJobCosts: %v", err)
	}
	if len(costs) != 1 {
		t.Errorf("cost rows = %d", len(costs))
	}
}

func TestWorkerSkipsCompletedJob(t *testing.T) {
	w, st, q, adapter := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	job := store.Job{ID: "j2", TaskType: "summary", Status: store.StatusQueued}
	if _, _, err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.UpdateJobStatus(ctx, "j2", store.StatusSucceeded); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	body, _ := json.Marshal(pipeline.Request{Prompt: "hello"})
	if err := q.Publish(ctx, "j2", body); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Give the worker time to see and drop the duplicate.
	time.Sleep(200 * time.Millisecond)
	if adapter.calls.Load() != 0 {
		t.Errorf("duplicate delivery reached the provider %d times", adapter.calls.Load())
	}
}

func TestWorkerDropsUnknownJob(t *testing.T) {
	w, _, q, adapter := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	body, _ := json.Marshal(pipeline.Request{Prompt: "hello"})
	if err := q.Publish(ctx, "ghost", body); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if adapter.calls.Load() != 0 {
		t.Errorf("unknown job reached the provider")
	}
}
