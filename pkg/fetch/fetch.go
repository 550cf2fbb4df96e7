// Package fetch holds the HTTP plumbing shared by the crawler, the Census API
// client and the source downloader: fixed per-request timeouts, an explicit
// retry policy and optional request pacing.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// MaxBodySize caps in-memory response bodies.
const MaxBodySize = 64 * 1024 * 1024

// ErrBodyTooLarge is returned by GetBytes and GetJSON for a body over the cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Retry controls how many times a request is attempted. The zero value
// performs a single attempt.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

func (r Retry) attempts() int {
	if r.Attempts < 1 {
		return 1
	}
	return r.Attempts
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.Code, e.URL)
}

// Client issues GET requests with a timeout, retry policy and limiter.
type Client struct {
	HTTP    *http.Client
	Retry   Retry
	Limiter *rate.Limiter
	// MaxBody caps GetBytes bodies; zero means MaxBodySize.
	MaxBody int64
}

// New returns a Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// WithRetry sets the retry policy and returns c.
func (c *Client) WithRetry(r Retry) *Client {
	c.Retry = r
	return c
}

// WithRate paces requests to perSecond (burst 1). perSecond <= 0 disables pacing.
func (c *Client) WithRate(perSecond float64) *Client {
	if perSecond > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return c
}

// GetBytes fetches url and returns the body of a 200 response.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.do(ctx, url, func(r io.Reader) error {
		limit := c.MaxBody
		if limit <= 0 {
			limit = MaxBodySize
		}
		b, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return err
		}
		if int64(len(b)) > limit {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, url, limit)
		}
		body = b
		return nil
	})
	return body, err
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.GetBytes(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Download streams url into dest.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	return c.do(ctx, url, func(r io.Reader) error {
		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		_, copyErr := io.Copy(f, r)
		closeErr := f.Close()
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	})
}

func (c *Client) do(ctx context.Context, url string, consume func(io.Reader) error) error {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	n := c.Retry.attempts()
	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		if attempt > 0 {
			backoff := c.Retry.Backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = &StatusError{URL: url, Code: resp.StatusCode}
			continue
		}

		err = consume(resp.Body)
		resp.Body.Close()
		if errors.Is(err, ErrBodyTooLarge) {
			return err
		}
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if n == 1 {
		return lastErr
	}
	return fmt.Errorf("GET %s failed after %d attempts: %w", url, n, lastErr)
}
