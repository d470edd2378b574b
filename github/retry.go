package github

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"touchminer/logger"
)

// RetryFetcher retries rate-limited requests. Because every attempt through
// a Client draws a fresh credential, a retry lands on the next token.
type RetryFetcher struct {
	inner       Fetcher
	maxAttempts int
}

// NewRetryFetcher wraps inner. maxAttempts below 1 is treated as 1.
func NewRetryFetcher(inner Fetcher, maxAttempts int) *RetryFetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryFetcher{inner: inner, maxAttempts: maxAttempts}
}

// Fetch delegates to the wrapped fetcher, retrying only on ErrRateLimited
func (f *RetryFetcher) Fetch(ctx context.Context, rawURL string, v any) error {
	var err error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		err = f.inner.Fetch(ctx, rawURL, v)
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("Retrying with next credential",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.maxAttempts))
	}
	return err
}
