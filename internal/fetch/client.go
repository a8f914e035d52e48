package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// errorIndicators mark a body that is an error page rather than content.
var errorIndicators = []string{"error", "404", "500", "not found", "server error", "maintenance"}

// Client fetches content from a mirror source.
type Client struct {
	http            *http.Client
	userAgent       string
	minContentBytes int
}

func NewClient(userAgent string, timeout time.Duration, minContentBytes int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if minContentBytes <= 0 {
		minContentBytes = 100
	}
	return &Client{
		http:            &http.Client{Timeout: timeout},
		userAgent:       userAgent,
		minContentBytes: minContentBytes,
	}
}

// Probe reports whether the source is serving real content. A tiny body or
// one that reads like an error page counts as unavailable; a down server
// must never cause the mirror to overwrite good data.
func (c *Client) Probe(ctx context.Context, baseURL string) error {
	body, err := c.Fetch(ctx, baseURL)
	if err != nil {
		return err
	}
	if len(body) < c.minContentBytes {
		return fmt.Errorf("source returned minimal content (%d bytes)", len(body))
	}
	lower := strings.ToLower(string(body))
	for _, indicator := range errorIndicators {
		if strings.Contains(lower, indicator) {
			return fmt.Errorf("source appears to be serving an error page (matched %q)", indicator)
		}
	}
	return nil
}

// Fetch GETs a URL and returns the body.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchJSON fetches a URL and decodes the body into v. The raw body is
// returned as well, for callers that store what they validated.
func (c *Client) FetchJSON(ctx context.Context, url string, v any) ([]byte, error) {
	body, err := c.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return body, nil
}
