package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/blake3"
)

// Cached memoizes successful responses for identical requests. With
// temperature 0 an identical prompt yields the same patch, so replaying a
// cached answer saves a paid call on repeated failures.
type Cached struct {
	ProviderClient
	cache *expirable.LRU[string, GenerateResponse]
}

// NewCached wraps next with an LRU of size entries that expire after ttl.
func NewCached(next ProviderClient, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 64
	}
	return &Cached{
		ProviderClient: next,
		cache:          expirable.NewLRU[string, GenerateResponse](size, nil, ttl),
	}
}

// Generate returns a cached response when one exists for req.
func (c *Cached) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	key := cacheKey(req)
	if resp, ok := c.cache.Get(key); ok {
		resp.Cached = true
		resp.Latency = 0
		return &resp, nil
	}

	resp, err := c.ProviderClient.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *resp)
	return resp, nil
}

// Len reports the number of live entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(req *GenerateRequest) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%g\x00%d", req.Model, req.SystemPrompt, req.Prompt, req.Temperature, req.MaxTokens)
	return hex.EncodeToString(h.Sum(nil))
}
