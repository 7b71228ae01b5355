package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestMemorySetGet(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	in := payload{Name: "ratio", Value: 2.5}
	if err := c.Set(ctx, "k", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out payload
	if err := c.Get(ctx, "k", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", payload{Name: "x"}, 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	var out payload
	err := c.Get(ctx, "k", &out)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	ok, err := c.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected expired key to not exist, ok=%v err=%v", ok, err)
	}
}

func TestMemoryMiss(t *testing.T) {
	c := NewMemory()
	defer c.Close()

	var out payload
	if err := c.Get(context.Background(), "absent", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryEviction(t *testing.T) {
	c := NewMemory(WithMaxEntries(2))
	defer c.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, payload{Name: k}, time.Minute); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	if n > 2 {
		t.Fatalf("expected eviction to hold size at 2, got %d", n)
	}
}

func TestLayeredBackfill(t *testing.T) {
	l1 := NewMemory()
	l2 := NewMemory()
	c := NewLayered(l1, l2, WithBackfillTTL(time.Minute))
	defer c.Close()
	ctx := context.Background()

	// value present only in L2, as after a restart
	if err := l2.Set(ctx, "k", payload{Name: "snap", Value: 1.4}, time.Minute); err != nil {
		t.Fatalf("seed l2: %v", err)
	}

	var out payload
	if err := c.Get(ctx, "k", &out); err != nil {
		t.Fatalf("layered get: %v", err)
	}
	if out.Name != "snap" {
		t.Fatalf("unexpected value: %+v", out)
	}

	var direct payload
	if err := l1.Get(ctx, "k", &direct); err != nil {
		t.Fatalf("expected L1 backfill, got %v", err)
	}
}

func TestLayeredWriteThrough(t *testing.T) {
	l1 := NewMemory()
	l2 := NewMemory()
	c := NewLayered(l1, l2)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", payload{Name: "w"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var fromL2 payload
	if err := l2.Get(ctx, "k", &fromL2); err != nil {
		t.Fatalf("expected write-through to L2, got %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ := c.Exists(ctx, "k")
	if ok {
		t.Fatalf("expected key gone from both layers")
	}
}
