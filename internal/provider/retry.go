package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxAttempts   = 4
	maxRetryAfter = 30 * time.Second
)

// retryBaseDelay scales the backoff: retry n waits n²·base plus jitter.
var retryBaseDelay = time.Second

// StatusError is a non-200 reply from a provider endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func readStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func backoffDelay(retry int) time.Duration {
	base := time.Duration(retry*retry) * retryBaseDelay
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter), true
}

// sendWithRetry sends requests built by newReq until one returns 200, the
// failure is permanent, or maxAttempts is used up. Transport errors, 429 and
// 5xx are retried; any other status comes back as a *StatusError at once.
func sendWithRetry(ctx context.Context, client *http.Client, newReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying request", "attempt", attempt, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, wait = err, backoffDelay(attempt)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		se := readStatusError(resp)
		if !se.Temporary() {
			return nil, se
		}
		lastErr, wait = se, backoffDelay(attempt)
		if d, ok := retryAfter(resp.Header); ok {
			wait = d
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}
