package usage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	pkgstrings "notebroker/pkg/strings"
)

const maxUsageBodyBytes = 1 << 20

// StatusError is a non-2xx response from the usage endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usage endpoint returned HTTP %d: %s", e.StatusCode,
		pkgstrings.Truncate(e.Body, pkgstrings.DefaultErrorBodyMaxLen))
}

// Client reads the usage-accounting endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Client. httpClient must attach the bearer token;
// NewAuthenticatedClient builds one from a TokenSource.
func NewClient(usageURL string, httpClient *http.Client) *Client {
	return &Client{url: usageURL, httpClient: httpClient, now: time.Now}
}

// NewAuthenticatedClient returns a Client whose requests carry a token from
// ts. Every request goes through ts, so an expiring session is refreshed
// before the call.
func NewAuthenticatedClient(ctx context.Context, usageURL string, ts oauth2.TokenSource, timeout time.Duration) *Client {
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = timeout
	return NewClient(usageURL, hc)
}

// Fetch retrieves the current snapshot. CachedAt is set to the time of the
// response; TTL is left for the caller.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUsageBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading usage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return ParseSnapshot(body, c.now())
}
