package gateway

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultRetryableStatuses are the transport status codes retried when the
// configuration does not supply its own set.
var DefaultRetryableStatuses = []int{429, 500, 502, 503, 504}

// DelayFunc computes the wait before retry number k (1-based). Injectable
// so tests can assert retry behavior without real waiting.
type DelayFunc func(retry int) time.Duration

// ExponentialJitter returns the default delay strategy:
// base * 2^(k-1) plus or minus up to 50% jitter, floored at zero.
func ExponentialJitter(base time.Duration) DelayFunc {
	return func(retry int) time.Duration {
		backoff := float64(base) * math.Pow(2, float64(retry-1))
		jitter := (rand.Float64()*2 - 1) * 0.5 * backoff
		delay := backoff + jitter
		if delay < 0 {
			delay = 0
		}
		return time.Duration(delay)
	}
}

// StatusOf extracts the HTTP status code from a transport error. The
// second return is false for status-less errors, which are never retried.
func StatusOf(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.HTTPStatusCode != 0
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, reqErr.HTTPStatusCode != 0
	}
	return 0, false
}

// withRetry runs call, retrying failures whose status is in the retryable
// set. Total attempts = MaxRetries + 1. After exhaustion the original
// error is returned unwrapped so callers can still branch on its status.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = call()
		if err == nil {
			return nil
		}

		status, ok := StatusOf(err)
		if !ok || !c.retryable[status] {
			return err
		}
		if attempt > c.maxRetries {
			c.logger.Warn("gateway retries exhausted",
				"op", op, "status", status, "attempts", attempt)
			return err
		}

		delay := c.delay(attempt)
		c.logger.Warn("gateway call failed, retrying",
			"op", op, "status", status, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
