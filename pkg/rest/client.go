// Package rest provides the rate-limited, retrying HTTP client for the
// exchange's REST API, covering the order book snapshot endpoint and the
// user data stream (listen key) lifecycle.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/ratelimit"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://api.binance.com"

// Config holds configuration for the REST client.
type Config struct {
	// BaseURL is the API endpoint, without a trailing slash.
	BaseURL string

	// APIKey authenticates key-only endpoints such as the user data stream.
	// Optional for public market data.
	APIKey string

	// Timeout applies to each individual HTTP request.
	Timeout time.Duration

	// RateLimit gates outbound requests.
	RateLimit ratelimit.Rate

	// MaxRetries and RetryDelay control retries of transient failures
	// (network errors, 5xx, 429).
	MaxRetries uint
	RetryDelay time.Duration

	Logger logging.Logger
}

// DefaultConfig returns a configuration suitable for the production API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    DefaultBaseURL,
		Timeout:    30 * time.Second,
		RateLimit:  ratelimit.Rate{Limit: 20, Interval: time.Second},
		MaxRetries: 3,
		RetryDelay: time.Second,
		Logger:     logging.NewLogger(),
	}
}

// APIError is a non-retryable error response from the exchange.
type APIError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

// Client is the REST API client. It is safe for concurrent use.
type Client struct {
	cfg     *Config
	http    *http.Client
	limiter ratelimit.RateLimiter
	logger  logging.Logger
}

// NewClient creates a REST client with the given configuration. A nil config
// uses DefaultConfig.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.NewTokenBucketLimiter(cfg.RateLimit),
		logger:  cfg.Logger,
	}
}

// Market returns the market data endpoints.
func (c *Client) Market() *MarketService {
	return &MarketService{c: c}
}

// UserStream returns the user data stream endpoints.
func (c *Client) UserStream() *UserStreamService {
	return &UserStreamService{c: c}
}

// SetRateLimit replaces the client's rate limit configuration.
func (c *Client) SetRateLimit(rate ratelimit.Rate) error {
	return c.limiter.SetLimit(rate)
}

// do executes one API call with rate limiting and retries, decoding the JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			if c.cfg.APIKey != "" {
				req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return fmt.Errorf("http request: %w", err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("retryable status %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(&APIError{Status: resp.StatusCode, Body: string(data)})
			}

			body = data
			return nil
		},
		retry.Attempts(c.cfg.MaxRetries),
		retry.Delay(c.cfg.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying request",
				logging.Int("attempt", int(n)+1),
				logging.String("method", method),
				logging.String("path", path),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
