// Package probe checks that a freshly reconciled instance actually
// serves traffic, beyond the provider reporting it Running.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPProbe performs a GET against a health URL with bounded retries
// and backoff. Connection failures and 5xx responses are retried; the
// context bounds the whole check.
type HTTPProbe struct {
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// NewHTTPProbe creates a probe with sane retry bounds.
func NewHTTPProbe(maxRetries int, waitMin, waitMax time.Duration) *HTTPProbe {
	return &HTTPProbe{
		MaxRetries:   maxRetries,
		RetryWaitMin: waitMin,
		RetryWaitMax: waitMax,
	}
}

// Retries returns the retry budget, for reporting.
func (p *HTTPProbe) Retries() int { return p.MaxRetries }

// Check returns nil once the URL answers with a non-error status.
func (p *HTTPProbe) Check(ctx context.Context, url string) error {
	client := retryablehttp.NewClient()
	client.RetryMax = p.MaxRetries
	client.RetryWaitMin = p.RetryWaitMin
	client.RetryWaitMax = p.RetryWaitMax
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("invalid probe url %q: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s unreachable: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
