package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/paperforge/internal/cache"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// CacheTTL is how long search results are reused.
const CacheTTL = 7 * 24 * time.Hour

// CachedClient wraps a Searcher with a read-through cache. Cache failures
// are logged and fall through to the underlying Searcher.
type CachedClient struct {
	next  Searcher
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedClient(next Searcher, c cache.Cache) *CachedClient {
	return &CachedClient{next: next, cache: c, ttl: CacheTTL}
}

func (c *CachedClient) Search(ctx context.Context, query string, limit int) ([]models.SourceDocument, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := cache.RetrievalKey(QueryHash(query, limit))

	if raw, found, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("retrieval cache read failed", "error", err)
	} else if found {
		var cached []models.SourceDocument
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		slog.Warn("discarding undecodable retrieval cache entry", "key", key)
	}

	sources, err := c.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(sources); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			slog.Warn("retrieval cache write failed", "error", err)
		}
	}
	return sources, nil
}

// QueryHash is the cache identity of a search: normalized query plus limit.
func QueryHash(query string, limit int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", normalized, limit)))
	return fmt.Sprintf("%x", hash)
}

var _ Searcher = (*CachedClient)(nil)
