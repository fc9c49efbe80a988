package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, ok, err := m.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss for unset key, got ok=%v err=%v", ok, err)
	}

	if err := m.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("expected hit v=v, got v=%q ok=%v err=%v", v, ok, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestMemoryStoreTTLIsNotHonored(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Set(ctx, "k", "v", time.Nanosecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatalf("expected fallback store to ignore TTL and still return the value")
	}
}

func TestMemoryStoreSetOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.SAdd(ctx, "idx", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SAdd(ctx, "idx", "a"); err != nil {
		t.Fatalf("duplicate SAdd should be idempotent, got error: %v", err)
	}
	members, err := m.SMembers(ctx, "idx")
	if err != nil || len(members) != 1 {
		t.Fatalf("expected 1 member, got %v err=%v", members, err)
	}
	if err := m.SRem(ctx, "idx", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	members, _ = m.SMembers(ctx, "idx")
	if len(members) != 0 {
		t.Fatalf("expected empty set after SRem, got %v", members)
	}
}

func TestMemoryStoreHashOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.HSet(ctx, "h", "f", "v"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok, err := m.HGet(ctx, "h", "f")
	if err != nil || !ok || v != "v" {
		t.Fatalf("expected hit, got v=%q ok=%v err=%v", v, ok, err)
	}
	all, err := m.HGetAll(ctx, "h")
	if err != nil || all["f"] != "v" {
		t.Fatalf("expected all to contain f=v, got %v", all)
	}
	if err := m.HDel(ctx, "h", "f"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := m.HGet(ctx, "h", "f"); ok {
		t.Fatalf("expected miss after HDel")
	}
}

func TestJSONGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	type payload struct {
		Name string `json:"name"`
	}
	if err := JSONSet(ctx, m, "p", payload{Name: "voice"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out payload
	ok, err := JSONGet(ctx, m, "p", &out)
	if err != nil || !ok || out.Name != "voice" {
		t.Fatalf("expected round-trip, got out=%+v ok=%v err=%v", out, ok, err)
	}
}
