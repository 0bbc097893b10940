package idempotency

import (
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	key := Key("user-1", "mail-831")
	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Set(key, []byte(`{"job_id":"j1"}`))

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != `{"job_id":"j1"}` {
		t.Errorf("response = %s", got)
	}
}

func TestCacheKeyScopedPerUser(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Stop()

	c.Set(Key("user-1", "k"), []byte("a"))
	if _, ok := c.Get(Key("user-2", "k")); ok {
		t.Fatal("dedupe key leaked across users")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 10)
	defer c.Stop()

	c.Set("k", []byte("v"))
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned")
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Stop()

	c.Set("a", []byte("1"))
	time.Sleep(time.Millisecond)
	c.Set("b", []byte("2"))
	time.Sleep(time.Millisecond)
	c.Set("c", []byte("3"))

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should survive")
	}
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Stop()

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("a", []byte("updated"))

	got, ok := c.Get("a")
	if !ok || string(got) != "updated" {
		t.Errorf("a = %s, ok = %v", got, ok)
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should survive an overwrite of a")
	}
}
