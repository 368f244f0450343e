// Package mdc implements the Market-Data Cache: an origin CSV fetch
// client fronted by a TTL-bounded, set-if-absent shared cache.
package mdc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/arcline-labs/backdrop/internal/common"
)

const (
	DefaultBaseURL   = "https://data.backdrop.internal"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// OriginClient fetches a symbol's raw CSV price series from the data
// origin described in the external interfaces contract.
type OriginClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the OriginClient.
type ClientOption func(*OriginClient)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *OriginClient) { c.baseURL = baseURL }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *OriginClient) { c.logger = logger }
}

// WithRateLimit sets the outbound requests-per-second cap.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *OriginClient) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *OriginClient) { c.httpClient.Timeout = timeout }
}

// NewOriginClient builds an OriginClient with the given options applied
// over sensible defaults.
func NewOriginClient(baseURL string, opts ...ClientOption) *OriginClient {
	c := &OriginClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCSV retrieves the raw CSV body for a symbol from the data origin.
func (c *OriginClient) FetchCSV(ctx context.Context, symbol string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", common.ErrDataUnavailable, err)
	}

	url := fmt.Sprintf("%s/symbols/%s.csv", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", common.ErrDataUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: origin returned status %d for %s", common.ErrDataUnavailable, resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", common.ErrDataUnavailable, err)
	}
	return body, nil
}
