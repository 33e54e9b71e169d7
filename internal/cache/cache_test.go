package cache

import (
	"context"
	"testing"
	"time"
)

type venueKey string

func TestCache_SetGet(t *testing.T) {
	c, err := New[venueKey, int](time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "pool-a", 42, 0)
	c.Wait()

	got, ok := c.Get(ctx, "pool-a")
	if !ok || got != 42 {
		t.Fatalf("Get = %d, %v; want 42, true", got, ok)
	}

	if _, ok := c.Get(ctx, "pool-b"); ok {
		t.Error("unexpected hit for missing key")
	}

	c.Delete("pool-a")
	c.Wait()
	if _, ok := c.Get(ctx, "pool-a"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestCache_Expiry(t *testing.T) {
	c, err := New[string, string](time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "k", "v", 50*time.Millisecond)
	c.Wait()

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(1200 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected miss after ttl")
	}
}
