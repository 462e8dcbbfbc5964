package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestKV(t *testing.T) (*redisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return newRedisKV(client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestRedisKVRoundTrip(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	if _, ok := kv.get(ctx, "missing"); ok {
		t.Fatal("absent key should miss")
	}

	kv.set(ctx, "k", []byte("v"))
	got, ok := kv.get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Fatalf("get = %q, %v; want v, true", got, ok)
	}

	kv.del(ctx, "k")
	if _, ok := kv.get(ctx, "k"); ok {
		t.Fatal("deleted key should miss")
	}

	kv.set(ctx, "t", []byte("v"))
	mr.FastForward(2 * time.Minute)
	if _, ok := kv.get(ctx, "t"); ok {
		t.Fatal("entry should expire with the tier TTL")
	}
}

func TestRedisKVGetMany(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	kv.set(ctx, "a", []byte("1"))
	kv.set(ctx, "c", []byte("3"))

	hits := kv.getMany(ctx, []string{"a", "b", "c"})
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if string(hits["a"]) != "1" || string(hits["c"]) != "3" {
		t.Errorf("hits = %v, want a=1 c=3", hits)
	}
	if _, ok := hits["b"]; ok {
		t.Error("absent key must not appear in the result")
	}
}

func TestRedisKVDegradesWhenUnreachable(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()
	mr.Close()

	if _, ok := kv.get(ctx, "k"); ok {
		t.Fatal("get against a dead server should miss")
	}
	kv.set(ctx, "k", []byte("v"))
	kv.del(ctx, "k")
	if hits := kv.getMany(ctx, []string{"k"}); len(hits) != 0 {
		t.Fatalf("getMany against a dead server = %v, want no hits", hits)
	}
}
