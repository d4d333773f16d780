package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const candidateKeyPrefix = "clover:candidates"

// CandidateCache stores candidate pools per tenant and filter so repeated
// panel loads do not hit Postgres. Entries expire after ttl and are
// invalidated whenever controls change for a tenant.
type CandidateCache struct {
	client *Client
	ttl    time.Duration
}

func NewCandidateCache(client *Client, ttl time.Duration) *CandidateCache {
	return &CandidateCache{
		client: client,
		ttl:    ttl,
	}
}

func candidateKey(tenantID string, filter models.CandidateFilter) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		strings.ToLower(filter.Keyword),
		filter.Framework,
		filter.Category,
	}, "|")))
	return fmt.Sprintf("%s:%s:%s", candidateKeyPrefix, tenantID, hex.EncodeToString(h[:8]))
}

// Get returns the cached pool for the tenant and filter. The second return
// value is false on a cache miss.
func (c *CandidateCache) Get(ctx context.Context, tenantID string, filter models.CandidateFilter) (*models.CandidatePool, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateCache.Get")
	defer span.End()

	raw, err := c.client.Get(ctx, candidateKey(tenantID, filter))
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var pool models.CandidatePool
	if err := json.Unmarshal([]byte(raw), &pool); err != nil {
		return nil, false, err
	}

	return &pool, true, nil
}

func (c *CandidateCache) Set(ctx context.Context, tenantID string, filter models.CandidateFilter, pool *models.CandidatePool) error {
	ctx, span := tracing.StartSpan(ctx, "CandidateCache.Set")
	defer span.End()

	raw, err := json.Marshal(pool)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, candidateKey(tenantID, filter), raw, c.ttl)
}

// Invalidate drops every cached pool for the tenant.
func (c *CandidateCache) Invalidate(ctx context.Context, tenantID string) error {
	ctx, span := tracing.StartSpan(ctx, "CandidateCache.Invalidate")
	defer span.End()

	pattern := fmt.Sprintf("%s:%s:*", candidateKeyPrefix, tenantID)

	var cursor uint64
	for {
		keys, next, err := c.client.Redis().Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
