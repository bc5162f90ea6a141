// Package providers implements gateway providers over public environmental
// data APIs.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Options tune a provider's HTTP behavior. Zero values use defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// RatePerSecond and Burst bound outgoing requests.
	RatePerSecond float64
	Burst         int
}

// client is the HTTP plumbing shared by every provider.
type client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(opts Options, defaultBase string, defaultRate float64) *client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	r := opts.RatePerSecond
	if r <= 0 {
		r = defaultRate
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 2
	}
	return &client{
		baseURL: base,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (c *client) get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *client) getJSON(ctx context.Context, path string, headers map[string]string, v interface{}) error {
	body, err := c.get(ctx, path, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
