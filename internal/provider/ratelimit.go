package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces out Generate calls to at most perMinute per minute.
type RateLimited struct {
	ProviderClient
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive perMinute returns next unchanged.
func NewRateLimited(next ProviderClient, perMinute int) ProviderClient {
	if perMinute <= 0 {
		return next
	}
	return &RateLimited{
		ProviderClient: next,
		limiter:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Generate blocks until the limiter admits the call or ctx is done.
func (r *RateLimited) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return r.ProviderClient.Generate(ctx, req)
}
