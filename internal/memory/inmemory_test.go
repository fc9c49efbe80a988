package memory

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecentContext(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if err := s.SaveTurn(ctx, TurnRecord{UserID: "u1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveTurn(ctx, TurnRecord{UserID: "u1", Role: "assistant", Content: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := s.RecentContext(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Content != "hi" || recs[1].Content != "hello" {
		t.Fatalf("expected chronological order, got %+v", recs)
	}
}

func TestInMemoryStoreLimitsResults(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i := 0; i < 5; i++ {
		_ = s.SaveTurn(ctx, TurnRecord{UserID: "u1", Role: "user", Content: "msg"})
	}
	recs, err := s.RecentContext(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected limit to cap at 2, got %d", len(recs))
	}
}

func TestInMemoryStoreUnknownUserReturnsEmpty(t *testing.T) {
	s := NewInMemoryStore()
	recs, err := s.RecentContext(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty result, got %v", recs)
	}
}
