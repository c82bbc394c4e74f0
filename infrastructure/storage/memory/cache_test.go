package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/cache"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/memory"
)

func TestNewCache(t *testing.T) {
	t.Parallel()

	if got := memory.NewCache().Stats().MaxSize; got != 1000 {
		t.Errorf("default MaxSize = %d, want 1000", got)
	}
	if got := memory.NewCache(memory.WithMaxSize(5)).Stats().MaxSize; got != 5 {
		t.Errorf("MaxSize = %d, want 5", got)
	}
}

func TestCache_SetGetDelete(t *testing.T) {
	t.Parallel()

	c := memory.NewCache()
	ctx := context.Background()

	if err := c.Set(ctx, "", []byte("x"), 0); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Set(\"\") error = %v, want ErrInvalidKey", err)
	}
	if err := c.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	v, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}
	v[0] = 'X'
	if again, _, _ := c.Get(ctx, "k1"); string(again) != "v1" {
		t.Error("Get() returned shared storage")
	}

	if err := c.Delete(ctx, "k1", "missing"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Error("expected miss after Delete()")
	}

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCache_Expiration(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := memory.NewCache(memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestCache_DeletePrefix(t *testing.T) {
	t.Parallel()

	c := memory.NewCache()
	ctx := context.Background()

	_ = c.Set(ctx, cache.StreamTreeKey("u1"), []byte("a"), 0)
	_ = c.Set(ctx, cache.StreamTreeKey("u2"), []byte("b"), 0)

	if err := c.DeletePrefix(ctx, cache.UserPrefix("u1")); err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, cache.StreamTreeKey("u1")); ok {
		t.Error("u1 entry should be gone")
	}
	if _, ok, _ := c.Get(ctx, cache.StreamTreeKey("u2")); !ok {
		t.Error("u2 entry should remain")
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	tick := time.Unix(0, 0)
	c := memory.NewCache(memory.WithMaxSize(2), memory.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", []byte("3"), 0)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Error("a should remain")
	}
}

func TestCache_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := memory.NewCache().Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}
