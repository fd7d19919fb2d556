package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/logger"
)

// Caches bundles the named caches C4 describes. One value is constructed
// at startup and injected wherever a component needs memoization.
type Caches struct {
	QueryEmbedding    *LRU
	QueryResult       *LRU
	Analysis          *LRU
	Persona           *LRU
	Variation         *LRU
	ItemNormalization *LRU

	l2 *RedisLayer // optional Redis layer, nil unless REDIS_ENABLED; GetOrCompute reads and writes only the LRUs
}

// New constructs the cache set per spec.md §4.4's TTL/size table, plus
// the per-input item-normalization cache C10 describes.
func New(cfg *config.Config, l2 *RedisLayer) *Caches {
	ttl := cfg.CacheTTL
	max := cfg.CacheMaxSize
	thirtyMin := 30 * time.Minute

	return &Caches{
		QueryEmbedding:    NewLRU(ttl, max),
		QueryResult:       NewLRU(ttl, max/2),
		Analysis:          NewLRU(thirtyMin, max),
		Persona:           NewLRU(thirtyMin, max),
		Variation:         NewLRU(thirtyMin, max),
		ItemNormalization: NewLRU(thirtyMin, max),
		l2:                l2,
	}
}

// GetOrCompute implements the read-through/write-through contract: a miss
// triggers compute, a hit returns the cached artifact and is logged.
func GetOrCompute[T any](ctx context.Context, c *LRU, key string, name string, compute func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		logger.Debug(ctx, "cache hit", "cache", name, "key", key)
		return v.(T), nil
	}
	logger.Debug(ctx, "cache miss", "cache", name, "key", key)
	val, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, val)
	return val, nil
}

// QueryResultKey builds the cache key for the whole-answer result cache:
// every input that changes the answer (utterance, channel, doc filter,
// prior-turn context hash) so no two distinct inputs share a key.
func QueryResultKey(question, channelID, docFilter, priorCtxHash string) string {
	return hashParts(question, channelID, docFilter, priorCtxHash)
}

// SanitizedQueryKey is the key shape for the query-embedding and analysis
// caches, which are keyed purely by the sanitized query text.
func SanitizedQueryKey(sanitized string) string {
	return hashParts(sanitized)
}

func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeWhitespace collapses runs of whitespace, used before hashing so
// cosmetic differences don't fragment the cache.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
