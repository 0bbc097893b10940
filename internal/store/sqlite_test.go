package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, reused, err := s.CreateJob(ctx, Job{
		ID:             "job-1",
		UserID:         "u1",
		TaskType:       "summarize",
		CostCeilingUSD: 0.05,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if reused {
		t.Error("fresh job reported as reused")
	}
	if created.Status != StatusQueued {
		t.Errorf("status = %s, want queued", created.Status)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("job not found")
	}
	if got.UserID != "u1" || got.TaskType != "summarize" || got.CostCeilingUSD != 0.05 {
		t.Errorf("unexpected job: %+v", got)
	}
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing job, got %+v", got)
	}
}

func TestCreateJobDedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, reused, err := s.CreateJob(ctx, Job{ID: "job-a", DedupeKey: "k1"})
	if err != nil || reused {
		t.Fatalf("first CreateJob: reused=%v err=%v", reused, err)
	}

	second, reused, err := s.CreateJob(ctx, Job{ID: "job-b", DedupeKey: "k1"})
	if err != nil {
		t.Fatalf("second CreateJob: %v", err)
	}
	if !reused {
		t.Fatal("duplicate dedupe key not detected")
	}
	if second.ID != first.ID {
		t.Errorf("returned job %s, want existing %s", second.ID, first.ID)
	}

	// Exactly one row exists; job-b was never inserted.
	if got, _ := s.GetJob(ctx, "job-b"); got != nil {
		t.Error("duplicate row created")
	}
}

func TestCreateJobEmptyDedupeKeysDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, reused, err := s.CreateJob(ctx, Job{ID: "j1"}); err != nil || reused {
		t.Fatalf("j1: reused=%v err=%v", reused, err)
	}
	if _, reused, err := s.CreateJob(ctx, Job{ID: "j2"}); err != nil || reused {
		t.Fatalf("j2: reused=%v err=%v", reused, err)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.CreateJob(ctx, Job{ID: "job-1"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for _, st := range []JobStatus{StatusRunning, StatusSucceeded} {
		if err := s.UpdateJobStatus(ctx, "job-1", st); err != nil {
			t.Fatalf("UpdateJobStatus(%s): %v", st, err)
		}
		got, _ := s.GetJob(ctx, "job-1")
		if got.Status != st {
			t.Errorf("status = %s, want %s", got.Status, st)
		}
	}

	if err := s.UpdateJobStatus(ctx, "ghost", StatusFailed); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestAppendAndListCosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.CreateJob(ctx, Job{ID: "job-1"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	costs := []JobCost{
		{JobID: "job-1", Provider: "openai", Model: "gpt-4o-mini", TokensIn: 100, TokensOut: 50, CostUSD: 0.001, LatencyMs: 420},
		{JobID: "job-1", Provider: "ollama", Model: "tinyllama", TokensIn: 100, TokensOut: 40, CostUSD: 0, LatencyMs: 900},
	}
	for _, c := range costs {
		if err := s.AppendCost(ctx, c); err != nil {
			t.Fatalf("AppendCost: %v", err)
		}
	}

	got, err := s.ListJobCosts(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListJobCosts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	// Insert order preserved.
	if got[0].Provider != "openai" || got[1].Provider != "ollama" {
		t.Errorf("order wrong: %s, %s", got[0].Provider, got[1].Provider)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}

	recent, err := s.ListRecentCosts(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ListRecentCosts: %v", err)
	}
	if len(recent) != 1 || recent[0].Provider != "ollama" {
		t.Errorf("recent = %+v, want newest row first", recent)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvent(ctx, Event{JobID: "job-1", Message: "routed to openai/gpt-4o-mini"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent(ctx, Event{JobID: "job-1", Level: "error", Message: "provider timeout"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := s.ListJobEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListJobEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Level != "info" {
		t.Errorf("level defaulted to %q, want info", got[0].Level)
	}
	if got[1].Level != "error" {
		t.Errorf("level = %q, want error", got[1].Level)
	}
}

func TestVaultBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	salt, data, err := s.LoadVaultBlob(ctx)
	if err != nil {
		t.Fatalf("LoadVaultBlob empty: %v", err)
	}
	if salt != nil || data != nil {
		t.Error("expected empty vault blob")
	}

	wantSalt := []byte("0123456789abcdef")
	wantData := map[string]string{"openai": "ciphertext"}
	if err := s.SaveVaultBlob(ctx, wantSalt, wantData); err != nil {
		t.Fatalf("SaveVaultBlob: %v", err)
	}

	salt, data, err = s.LoadVaultBlob(ctx)
	if err != nil {
		t.Fatalf("LoadVaultBlob: %v", err)
	}
	if string(salt) != string(wantSalt) || data["openai"] != "ciphertext" {
		t.Errorf("round trip mismatch: salt=%q data=%v", salt, data)
	}
}

func TestJobTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	created, _, err := s.CreateJob(ctx, Job{ID: "job-1"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if created.CreatedAt.Before(before) {
		t.Errorf("created_at not defaulted: %v", created.CreatedAt)
	}

	got, _ := s.GetJob(ctx, "job-1")
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not persisted")
	}
}
