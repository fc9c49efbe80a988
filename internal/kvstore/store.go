// Package kvstore abstracts a remote cache (Redis) behind a process-local
// fallback implementing the same surface, so callers never branch on which
// backend is active.
package kvstore

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the full key/value surface the session store and semantic cache
// build on: plain get/set with TTL, JSON convenience, hash ops, and set ops.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	KeysPattern(ctx context.Context, pattern string) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Mode reports which backend is currently serving calls: "redis" or
	// "memory".
	Mode() string
}

// JSONGet decodes the stored value at key into v. Returns ok=false if the
// key is absent.
func JSONGet(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

// JSONSet marshals v and stores it at key with the given TTL.
func JSONSet(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(raw), ttl)
}
