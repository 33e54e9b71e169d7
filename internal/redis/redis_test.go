package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// These tests need a live server; set ARB_TEST_REDIS_ADDR to run them.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("ARB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARB_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager_Exclusive(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c, "test:lock:")
	ctx := context.Background()
	key := uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := lm.Acquire(ctx, key, 5*time.Second); !apperror.HasCode(err, apperror.CodeLockNotAcquired) {
		t.Errorf("second Acquire() error = %v, want LOCK_NOT_ACQUIRED", err)
	}

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire() after unlock error = %v", err)
	}
	unlock2()
}

func TestSignalBus_StreamRoundTrip(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()
	stream := "test:stream:" + uuid.NewString()
	defer c.Underlying().Del(ctx, stream)

	for _, p := range []string{"a", "b"} {
		if err := bus.StreamAppend(ctx, stream, []byte(p)); err != nil {
			t.Fatalf("StreamAppend() error = %v", err)
		}
	}

	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead() error = %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "test:chan:" + uuid.NewString()
	ch, err := bus.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Publish(ctx, channel, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-ch:
		if string(got) != "hello" {
			t.Errorf("payload = %s", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
