package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewClient creates a forge client for one repository.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:         token,
		Owner:         owner,
		Repo:          repo,
		BaseURL:       DefaultAPIEndpoint,
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		MaxRetries:    DefaultMaxRetries,
		Backoff:       DefaultBackoff,
		WarnThreshold: DefaultWarnThreshold,
	}
}

// WithBaseURL returns a copy of the client pointed at a custom base URL
// (for testing or self-hosted forges).
func (c *Client) WithBaseURL(baseURL string) *Client {
	nc := c.clone()
	nc.BaseURL = baseURL
	return nc
}

// WithHTTPClient returns a copy of the client using a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	nc := c.clone()
	nc.HTTPClient = httpClient
	return nc
}

func (c *Client) clone() *Client {
	return &Client{
		Token:         c.Token,
		Owner:         c.Owner,
		Repo:          c.Repo,
		BaseURL:       c.BaseURL,
		HTTPClient:    c.HTTPClient,
		MaxRetries:    c.MaxRetries,
		Backoff:       c.Backoff,
		WarnThreshold: c.WarnThreshold,
		WarnFunc:      c.WarnFunc,
	}
}

// RateLimit returns the quota snapshot from the most recent response.
func (c *Client) RateLimit() RateLimitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// newBackoff builds the exponential schedule for transient failures:
// Backoff, 2*Backoff, 4*Backoff, ... with no jitter so waits are
// predictable and testable.
func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.Backoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0 // retries are bounded by MaxRetries, not time
	bo.Reset()
	return bo
}

// Do performs one API request with rate-limit handling and retries.
//
// It returns the final HTTP status and response body. Retryable failures
// (429, quota-exhausted 403, 5xx, transport errors) are retried up to
// MaxRetries times; exhausting retries returns the last observed status
// with a nil body and a nil error. A 403 with remaining quota is a
// permission failure and returns immediately with ErrPermissionDenied.
func (c *Client) Do(ctx context.Context, method, urlStr string, body any) (int, []byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	bo := c.newBackoff()
	lastStatus := 0
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			// Transport-level failure: exponential backoff.
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt+1, c.MaxRetries+1, err)
			if attempt == c.MaxRetries {
				break
			}
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return 0, nil, err
			}
			continue
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response (attempt %d/%d): %w", attempt+1, c.MaxRetries+1, readErr)
			if attempt == c.MaxRetries {
				break
			}
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return 0, nil, err
			}
			continue
		}

		c.recordRateLimit(resp.Header)
		lastStatus = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt == c.MaxRetries {
				return resp.StatusCode, nil, nil
			}
			if err := sleepCtx(ctx, c.retryAfter(resp.Header)); err != nil {
				return 0, nil, err
			}
			continue

		case resp.StatusCode == http.StatusForbidden:
			if resp.Header.Get("X-RateLimit-Remaining") == "0" {
				// Quota exhausted: same treatment as 429, waiting
				// until the advertised reset.
				if attempt == c.MaxRetries {
					return resp.StatusCode, nil, nil
				}
				if err := sleepCtx(ctx, c.untilReset(resp.Header)); err != nil {
					return 0, nil, err
				}
				continue
			}
			return resp.StatusCode, respBody, fmt.Errorf("%s %s: %w", method, urlStr, ErrPermissionDenied)

		case resp.StatusCode >= 500:
			if attempt == c.MaxRetries {
				return resp.StatusCode, nil, nil
			}
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return 0, nil, err
			}
			continue

		default:
			return resp.StatusCode, respBody, nil
		}
	}

	if lastStatus == 0 {
		return 0, nil, fmt.Errorf("max retries (%d) exceeded: %w", c.MaxRetries+1, lastErr)
	}
	return lastStatus, nil, nil
}

// retryAfter reads the Retry-After header, falling back to the base backoff.
func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return c.Backoff
}

// untilReset returns how long to wait for the quota window to reset,
// plus a small buffer.
func (c *Client) untilReset(h http.Header) time.Duration {
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			wait := time.Until(time.Unix(epoch, 0))
			if wait < 0 {
				wait = 0
			}
			return wait + resetBuffer
		}
	}
	return c.Backoff
}

// recordRateLimit updates the quota snapshot from response headers and
// emits a warning event when remaining quota falls under the threshold.
func (c *Client) recordRateLimit(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}

	state := RateLimitState{Remaining: remaining}
	if epoch, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		state.Reset = time.Unix(epoch, 0)
	}

	c.mu.Lock()
	c.rateLimit = state
	c.mu.Unlock()

	if c.WarnFunc != nil && remaining < c.WarnThreshold {
		c.WarnFunc("rate limit low: %d requests remaining (resets %s)",
			remaining, state.Reset.Format(time.RFC3339))
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
