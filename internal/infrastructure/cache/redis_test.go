package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis_Success(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := OpenRedis(context.Background(), s.Addr(), 2, time.Second)
	if err != nil {
		t.Fatalf("OpenRedis returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if got := c.Options().DB; got != 2 {
		t.Fatalf("client DB = %d, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.SetNX(ctx, "idemp:op:k", "v", time.Minute).Err(); err != nil {
		t.Fatalf("SETNX err: %v", err)
	}
	if !s.DB(2).Exists("idemp:op:k") {
		t.Fatalf("key not written to selected DB")
	}
}

func TestOpenRedis_Failure(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not-a-real-host:6379", 0, 500*time.Millisecond); err == nil {
		t.Fatal("expected error, got nil")
	}
}
