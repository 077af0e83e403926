package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError is a non-retryable or final HTTP failure.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// attempt is the outcome of one GET used to choose the next delay.
type attempt struct {
	status     int
	retryAfter time.Duration
	err        error
}

// openHTTP GETs url, retrying 429, 5xx and transport errors with
// exponential backoff. The returned body belongs to the caller.
func (f *Fetcher) openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	sleep := f.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	maxAttempts := max(1, f.MaxAttempts)

	var last attempt
	for n := 1; n <= maxAttempts; n++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", url, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last = attempt{err: err}
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.Body, nil
		} else {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			last = attempt{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header)}
			if !retryable(resp.StatusCode) {
				return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
			}
		}

		if n == maxAttempts {
			break
		}
		wait := nextRetryDelay(last, n, f.BaseBackoff, f.MaxBackoff)
		f.logger().Printf("url=%s attempt=%d status=%d retry_in=%s", url, n, last.status, wait)
		if !sleep(ctx, wait) {
			return nil, ctx.Err()
		}
	}
	if last.err != nil {
		return nil, fmt.Errorf("GET %s: %d attempts: %w", url, maxAttempts, last.err)
	}
	return nil, &StatusError{URL: url, StatusCode: last.status}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func nextRetryDelay(a attempt, n int, base, maxDelay time.Duration) time.Duration {
	if a.status == http.StatusTooManyRequests && a.retryAfter > 0 {
		return a.retryAfter
	}

	// Exponential: base * 2^(n-1), clamped.
	d := base << uint(n-1)
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}

	// Transport failures wait at least a few seconds to avoid tight loops.
	if a.status == 0 && d < 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
