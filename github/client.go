package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"touchminer/logger"
)

// DefaultBaseURL is the public GitHub REST API
const DefaultBaseURL = "https://api.github.com"

// DefaultTimeout bounds every request issued by the client
const DefaultTimeout = 30 * time.Second

// RateLimit represents GitHub's rate limit information
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Fetcher performs one authenticated GET and decodes the JSON body into v
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, v any) error
}

// Client is an authenticated GitHub API client. Each request draws the next
// credential from its rotator.
type Client struct {
	rotator    *CredentialRotator
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client. A zero timeout selects DefaultTimeout and a
// non-positive requestsPerSecond disables client-side pacing.
func NewClient(rotator *CredentialRotator, timeout time.Duration, requestsPerSecond float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	logger.Info("Initializing GitHub client",
		zap.Int("credentials", rotator.Len()),
		zap.Duration("timeout", timeout),
		zap.Float64("requests_per_second", requestsPerSecond))

	return &Client{
		rotator: rotator,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// Fetch issues an authenticated GET against rawURL and decodes the response.
// Failures other than a missing credential are returned as *FetchError.
func (c *Client) Fetch(ctx context.Context, rawURL string, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{URL: rawURL, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	// drawn after pacing so every credential tick matches a sent request
	token, err := c.rotator.Next()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchError{URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	logger.Debug("Fetching", zap.String("url", rawURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Request failed", zap.Error(err), zap.String("url", rawURL))
		return &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		limit := parseRateLimit(resp)
		cause := ErrUnexpectedStatus
		if isRateLimited(resp) {
			cause = ErrRateLimited
			logger.Warn("Rate limit exceeded for credential",
				zap.Int("limit", limit.Limit),
				zap.Time("reset_time", limit.Reset),
				zap.String("url", rawURL))
		} else {
			logger.Error("Unexpected response status",
				zap.Int("status_code", resp.StatusCode),
				zap.String("url", rawURL))
		}
		return &FetchError{URL: rawURL, StatusCode: resp.StatusCode, RateLimit: limit, Err: cause}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		logger.Error("Failed to decode response", zap.Error(err), zap.String("url", rawURL))
		return &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			RateLimit:  parseRateLimit(resp),
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}

	return nil
}

// parseRateLimit parses rate limit information from response headers
func parseRateLimit(resp *http.Response) RateLimit {
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	reset, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)

	rl := RateLimit{
		Limit:     limit,
		Remaining: remaining,
	}
	if reset > 0 {
		rl.Reset = time.Unix(reset, 0)
	}
	return rl
}

// isRateLimited reports whether the response is a primary or secondary rate limit
func isRateLimited(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	}
	return false
}
