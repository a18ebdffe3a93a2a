package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client is a wrapper for HTTP client with rate limiting
type Client struct {
	HTTPClient      *http.Client
	Limiter         *rate.Limiter
	maxRetries      int
	maxRetryTimeout time.Duration
}

// ClientOptions holds options for creating a new Client
type ClientOptions struct {
	Timeout         time.Duration
	RequestsPerSec  int
	MaxRetries      int
	MaxRetryTimeout time.Duration
}

// NewClient creates a new HTTP client with rate limiting
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxRetryTimeout == 0 {
		opts.MaxRetryTimeout = 30 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
		Limiter:         rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
		maxRetries:      opts.MaxRetries,
		maxRetryTimeout: opts.MaxRetryTimeout,
	}
}

// DoRequest performs a GET-style request with rate limiting and retries.
// Client errors other than 429 are not retried.
func (c *Client) DoRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		if err := c.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var err error
		resp, err = c.HTTPClient.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = c.maxRetryTimeout

	policy := backoff.WithContext(backoff.WithMaxRetries(backoffStrategy, uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return resp, nil
}

// HTTPStatusError represents an error due to a non-200 HTTP status code
type HTTPStatusError struct {
	StatusCode int
}

// Error implements the error interface
func (e *HTTPStatusError) Error() string {
	return "non-200 status code: " + http.StatusText(e.StatusCode)
}
