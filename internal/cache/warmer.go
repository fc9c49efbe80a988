package cache

import (
	"context"
	"log"
	"time"
)

const warmEntryTTL = 24 * time.Hour

// WarmEntry is one canonical greeting/response pair seeded at startup.
type WarmEntry struct {
	Query    string
	Response string
}

// DefaultWarmEntries mirrors the canonical greeting set the original
// service seeds on boot.
var DefaultWarmEntries = []WarmEntry{
	{Query: "Hello", Response: "Hello! I'm your AI voice assistant. How can I help you today?"},
	{Query: "Hi", Response: "Hi there! What can I do for you?"},
	{Query: "Good morning", Response: "Good morning! How can I help you today?"},
	{Query: "Thank you", Response: "You're welcome! Anything else I can help with?"},
	{Query: "Goodbye", Response: "Goodbye! Talk to you soon."},
}

// Warm seeds entries with a long TTL and a source=warmer metadata tag.
// Failures to warm an individual entry are logged and skipped, never fatal.
func Warm(ctx context.Context, c *SemanticCache, entries []WarmEntry) int {
	seeded := 0
	for _, e := range entries {
		err := c.Set(ctx, e.Query, e.Response, warmEntryTTL, map[string]any{"source": "warmer"})
		if err != nil {
			log.Printf("cache warmer: failed to seed %q: %v", e.Query, err)
			continue
		}
		seeded++
	}
	return seeded
}
