package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pennyroute/pennyroute/internal/store"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	v1 := unlocked(t)
	if err := v1.Set("openai_api_key", "sk-test-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v1.Save(context.Background(), st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	v2, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v2.Load(context.Background(), st); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := v2.Unlock([]byte("a]strong-password-for-testing!!")); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	got, err := v2.Get("openai_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-test-123" {
		t.Errorf("value = %q", got)
	}
}

func TestLoadEmptyStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	v, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Load(context.Background(), st); err != nil {
		t.Fatalf("Load on empty store: %v", err)
	}
}
