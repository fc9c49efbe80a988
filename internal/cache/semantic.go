// Package cache implements the embedding-indexed semantic response cache
// with TTL classification, grounded on the query-type keyword rules and
// index-based similarity scan of the original service.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/samantha/internal/embedding"
	"github.com/antoniostano/samantha/internal/kvstore"
)

const (
	cachePrefix    = "sem_cache:"
	embeddingPrefix = "sem_emb:"
	indexKey       = "sem_cache:index"

	DefaultSimilarityThreshold = 0.85
	DefaultTTL                 = time.Hour

	ttlTemporal  = 5 * time.Minute
	ttlSearch    = 15 * time.Minute
	ttlKnowledge = 2 * time.Hour
)

var (
	temporalKeywords  = []string{"weather", "time", "today", "now", "current", "latest"}
	searchKeywords    = []string{"news", "happened", "recent", "update"}
	knowledgeKeywords = []string{"what is", "who is", "how to", "explain", "define"}
)

// record is the stored JSON response record.
type record struct {
	Query    string         `json:"query"`
	Response string         `json:"response"`
	CachedAt time.Time      `json:"cached_at"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CacheHit is returned by Get on a successful similarity match.
type CacheHit struct {
	Response       string
	Similarity     float64
	OriginalQuery  string
	CachedAt       time.Time
}

// Stats reports cumulative hit/miss counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Total   int64
	HitRate float64
}

// SemanticCache is keyed by embedding cosine similarity over stored queries.
type SemanticCache struct {
	store               kvstore.Store
	similarityThreshold float64
	defaultTTL          time.Duration

	mu     sync.Mutex
	hits   int64
	misses int64
}

func New(store kvstore.Store, similarityThreshold float64, defaultTTL time.Duration) *SemanticCache {
	if similarityThreshold <= 0 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &SemanticCache{store: store, similarityThreshold: similarityThreshold, defaultTTL: defaultTTL}
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])[:16]
}

// classifyTTL applies the temporal/search/knowledge/general keyword rules.
func classifyTTL(query string, defaultTTL time.Duration) time.Duration {
	lower := strings.ToLower(query)
	if containsAny(lower, temporalKeywords) {
		return ttlTemporal
	}
	if containsAny(lower, searchKeywords) {
		return ttlSearch
	}
	if containsAny(lower, knowledgeKeywords) {
		return ttlKnowledge
	}
	return defaultTTL
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Get returns the highest-similarity cached response for query, or nil if
// nothing clears the similarity threshold.
func (c *SemanticCache) Get(ctx context.Context, query string) (*CacheHit, error) {
	digests, err := c.store.SMembers(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	if len(digests) == 0 {
		c.recordMiss()
		return nil, nil
	}

	q := embedding.Embed(query)
	candidates := make([]embedding.Candidate, 0, len(digests))
	recordByDigest := map[string]record{}

	for _, digest := range digests {
		var emb []float64
		ok, err := kvstore.JSONGet(ctx, c.store, embeddingPrefix+digest, &emb)
		if err != nil || !ok {
			continue
		}
		var rec record
		if ok, err := kvstore.JSONGet(ctx, c.store, cachePrefix+digest, &rec); err != nil || !ok {
			continue
		} else {
			recordByDigest[digest] = rec
		}
		candidates = append(candidates, embedding.Candidate{ID: digest, Embedding: emb})
	}

	matches := embedding.FindMostSimilar(q, candidates, 1, c.similarityThreshold)
	if len(matches) == 0 {
		c.recordMiss()
		return nil, nil
	}

	best := matches[0]
	rec := recordByDigest[best.ID]
	c.recordHit()
	return &CacheHit{
		Response:      rec.Response,
		Similarity:    best.Similarity,
		OriginalQuery: rec.Query,
		CachedAt:      rec.CachedAt,
	}, nil
}

// Set stores a response record and its embedding under the query's digest,
// classifying the TTL when ttl is zero.
func (c *SemanticCache) Set(ctx context.Context, query, response string, ttl time.Duration, metadata map[string]any) error {
	if ttl <= 0 {
		ttl = classifyTTL(query, c.defaultTTL)
	}
	digest := cacheKey(query)

	rec := record{Query: query, Response: response, CachedAt: time.Now(), Metadata: metadata}
	if err := kvstore.JSONSet(ctx, c.store, cachePrefix+digest, rec, ttl); err != nil {
		return err
	}
	if err := kvstore.JSONSet(ctx, c.store, embeddingPrefix+digest, embedding.Embed(query), ttl); err != nil {
		return err
	}
	return c.store.SAdd(ctx, indexKey, digest)
}

// Invalidate removes a query's response and embedding records and drops it
// from the membership index.
func (c *SemanticCache) Invalidate(ctx context.Context, query string) error {
	digest := cacheKey(query)
	if err := c.store.Delete(ctx, cachePrefix+digest); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, embeddingPrefix+digest); err != nil {
		return err
	}
	return c.store.SRem(ctx, indexKey, digest)
}

// Clear wipes every entry observed via the membership index.
func (c *SemanticCache) Clear(ctx context.Context) error {
	digests, err := c.store.SMembers(ctx, indexKey)
	if err != nil {
		return err
	}
	for _, digest := range digests {
		_ = c.store.Delete(ctx, cachePrefix+digest)
		_ = c.store.Delete(ctx, embeddingPrefix+digest)
		_ = c.store.SRem(ctx, indexKey, digest)
	}
	return nil
}

// CleanupIndex drops digests from the membership index whose backing
// record has already expired out of the store — the in-memory kvstore
// fallback doesn't expire set members on its own, so the index can
// otherwise accumulate references to dead entries (§4.11).
func (c *SemanticCache) CleanupIndex(ctx context.Context) (int, error) {
	digests, err := c.store.SMembers(ctx, indexKey)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, digest := range digests {
		var rec record
		found, err := kvstore.JSONGet(ctx, c.store, cachePrefix+digest, &rec)
		if err != nil || found {
			continue
		}
		_ = c.store.SRem(ctx, indexKey, digest)
		_ = c.store.Delete(ctx, embeddingPrefix+digest)
		removed++
	}
	return removed, nil
}

func (c *SemanticCache) recordHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
}

func (c *SemanticCache) recordMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
}

func (c *SemanticCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{Hits: c.hits, Misses: c.misses, Total: total, HitRate: rate}
}
