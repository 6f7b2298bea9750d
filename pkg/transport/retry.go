package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls opt-in retries of transient failures. The zero value
// disables retries: a 429 is surfaced once as *RateLimitError.
//
// 429 and 5xx responses are retried for every method. A network failure with
// no response is retried only for idempotent methods, since a POST may have
// been applied before the connection broke.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// MaxRetryAfter caps how long a server-provided Retry-After is honored.
	// Longer waits end the retry loop and return the *RateLimitError.
	MaxRetryAfter time.Duration
}

// DefaultRetryPolicy is a conservative policy for callers that want retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetryAfter:   30 * time.Second,
	}
}

func (p RetryPolicy) enabled() bool {
	return p.MaxRetries > 0
}

// serverPacedBackOff wraps an exponential backoff so that a Retry-After from
// the previous attempt wins over the computed interval.
type serverPacedBackOff struct {
	backoff.BackOff
	retryAfter time.Duration
}

func (b *serverPacedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.retryAfter > next {
		next = b.retryAfter
	}
	b.retryAfter = 0
	return next
}

// retry runs op under the policy. Each invocation of op is a complete
// attempt, including a fresh attestation.
func (p RetryPolicy) retry(ctx context.Context, idempotent bool, onRetry func(error, time.Duration), op func() error) error {
	if !p.enabled() {
		return op()
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	paced := &serverPacedBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(p.MaxRetries))}

	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		var netErr *networkError
		if !idempotent && errors.As(err, &netErr) {
			return backoff.Permanent(err)
		}

		var rl *RateLimitError
		if errors.As(err, &rl) {
			if p.MaxRetryAfter > 0 && rl.RetryAfter > p.MaxRetryAfter {
				return backoff.Permanent(err)
			}
			paced.retryAfter = rl.RetryAfter
		}
		return err
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(paced, ctx), onRetry)
}

// idempotent reports whether repeating a request with method is safe.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
