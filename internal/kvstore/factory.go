package kvstore

import (
	"context"
	"log"
	"strings"
)

// New binds to redisURL when present, falling back to a process-local
// store on empty configuration or a failed connection. Connection failures
// are logged, never fatal (§7, "Store unavailable").
func New(ctx context.Context, redisURL string) Store {
	if strings.TrimSpace(redisURL) == "" {
		log.Printf("kvstore: no REDIS_URL configured, using in-memory fallback")
		return NewMemoryStore()
	}
	store, err := Connect(ctx, redisURL)
	if err != nil {
		log.Printf("kvstore: redis connect failed (%v), using in-memory fallback", err)
		return NewMemoryStore()
	}
	return store
}
