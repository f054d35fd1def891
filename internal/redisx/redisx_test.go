package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLease(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	a, b := NewLease(rdb), NewLease(rdb)

	release, ok, err := a.TryLock(ctx, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := b.TryLock(ctx, "sweep", time.Minute); err != nil || ok {
		t.Fatalf("expected second lock to fail, got ok=%v err=%v", ok, err)
	}
	release()
	release2, ok, err := b.TryLock(ctx, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock after release, got ok=%v err=%v", ok, err)
	}
	// A stale release from the old holder must not drop the new lease.
	release()
	if _, ok, _ := a.TryLock(ctx, "sweep", time.Minute); ok {
		t.Fatal("stale release dropped someone else's lease")
	}
	release2()
}

func TestStatusCache(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)
	v1 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	if _, ok, err := c.Get(ctx, "s-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Put(ctx, "s-1", v1, []byte(`{"state":"draft"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	b, ok, err := c.Get(ctx, "s-1")
	if err != nil || !ok || string(b) != `{"state":"draft"}` {
		t.Fatalf("expected hit, got %q ok=%v err=%v", b, ok, err)
	}
	if err := c.Invalidate(ctx, "s-1", v1.Add(time.Second)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "s-1"); ok {
		t.Fatal("expected cache entry to be dropped")
	}
}

func TestStatusCacheSkipsViewOlderThanInvalidation(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)
	read := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	changed := read.Add(time.Millisecond)

	// A reader loaded the draft, then the sale was reserved and invalidated
	// before the reader wrote its view back.
	if err := c.Invalidate(ctx, "s-2", changed); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Put(ctx, "s-2", read, []byte(`{"state":"draft"}`)); err != nil {
		t.Fatalf("stale put: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "s-2"); ok {
		t.Fatal("stale view must not be cached")
	}

	// An older invalidation arriving late does not lower the floor.
	if err := c.Invalidate(ctx, "s-2", read); err != nil {
		t.Fatalf("late invalidate: %v", err)
	}
	if err := c.Put(ctx, "s-2", read, []byte(`{"state":"draft"}`)); err != nil {
		t.Fatalf("stale put: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "s-2"); ok {
		t.Fatal("stale view must not be cached after a late invalidation")
	}

	if err := c.Put(ctx, "s-2", changed, []byte(`{"state":"reserved"}`)); err != nil {
		t.Fatalf("fresh put: %v", err)
	}
	b, ok, err := c.Get(ctx, "s-2")
	if err != nil || !ok || string(b) != `{"state":"reserved"}` {
		t.Fatalf("expected fresh view, got %q ok=%v err=%v", b, ok, err)
	}
}

func TestDedup(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	d := NewDedup(rdb, "worker")

	if seen, err := d.Seen(ctx, "ev-1"); err != nil || seen {
		t.Fatalf("expected unseen, got %v %v", seen, err)
	}
	if err := d.Mark(ctx, "ev-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if seen, err := d.Seen(ctx, "ev-1"); err != nil || !seen {
		t.Fatalf("expected seen, got %v %v", seen, err)
	}
	if seen, _ := NewDedup(rdb, "other").Seen(ctx, "ev-1"); seen {
		t.Fatal("dedup must be scoped per service")
	}
}
