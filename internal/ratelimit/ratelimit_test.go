package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_BurstThenBlock(t *testing.T) {
	l := New(60) // 1 rps, burst 6
	for i := 0; i < 6; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should fit in burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("burst exhausted, expected denial")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("Wait should fail when the next token is beyond the deadline")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(0)
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatal("unlimited limiter denied a request")
		}
	}
}

func TestGroup_PerKey(t *testing.T) {
	g := NewGroup(600, map[string]int{"1": 60})

	if g.For("1") != g.For("1") {
		t.Error("same key must return same limiter")
	}
	if g.For("1") == g.For("137") {
		t.Error("different keys must not share a limiter")
	}
}
