package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnexpectedStatus marks a completed request whose status was not 200.
var ErrUnexpectedStatus = errors.New("unexpected status")

// retryDelay is the pause before the single-request retry.
const retryDelay = 500 * time.Millisecond

// maxBodySize bounds how much of a product page is read.
const maxBodySize = 2 << 20

// Result is the outcome of a completed HTTP exchange.
type Result struct {
	StatusCode int
	Body       []byte
}

// Client fetches product pages from a host that fingerprints scrapers. It
// owns the timeout, retry and browser-impersonation concerns; callers only
// see success or a fetch failure.
type Client struct {
	http    *http.Client
	headers map[string]string
	retries int
}

// New builds a Client with the given per-request timeout, impersonation
// profile name and retry count. An unknown or empty profile degrades to a
// plain client.
func New(timeout time.Duration, profile string, retries int) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		headers: ProfileHeaders(profile),
		retries: retries,
	}
}

// ProfileHeaders returns the header set for a named browser profile, or nil
// when the profile is unknown. Header-level impersonation is enough for the
// basic bot-detection on the target site.
func ProfileHeaders(profile string) map[string]string {
	switch profile {
	case "chrome":
		return map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "ja,en-US;q=0.9,en;q=0.8",
		}
	default:
		return nil
	}
}

// Fetch performs a GET against url. Network-level failures and 5xx responses
// are retried up to the configured count; any remaining failure, including a
// non-200 status, comes back as an error value rather than a panic.
func (c *Client) Fetch(ctx context.Context, url string) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		res, err := c.fetchOnce(ctx, url)
		if err == nil {
			return res, nil
		}
		lastErr = err

		// Only network errors and server errors are worth retrying.
		if res != nil && res.StatusCode < http.StatusInternalServerError {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	res := &Result{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, url)
	}
	return res, nil
}
