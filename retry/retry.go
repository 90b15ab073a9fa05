// Package retry runs calls to external services with bounded attempts
// and exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 1 * time.Second
)

type config struct {
	maxRetries int
	baseWait   time.Duration
}

// Option adjusts retry behavior.
type Option func(*config)

// WithMaxRetries sets the total number of attempts.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Each later wait
// doubles, plus jitter.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// RecoverableError marks a failure as transient.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return e.Err.Error() }

func (e *RecoverableError) Unwrap() error { return e.Err }

// NewRecoverableError wraps err so that Do will retry it.
func NewRecoverableError(err error) error {
	return &RecoverableError{Err: err}
}

// APIError is implemented by errors carrying an HTTP status code.
type APIError interface {
	error
	StatusCode() int
}

// ShouldRetry reports whether an HTTP status code indicates a
// transient failure.
func ShouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || // 429
		statusCode == http.StatusServiceUnavailable || // 503
		statusCode == http.StatusGatewayTimeout // 504
}

// IsRecoverable reports whether err is worth retrying: either marked
// recoverable or an API error with a transient status code.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable *RecoverableError
	if errors.As(err, &recoverable) {
		return true
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return ShouldRetry(apiErr.StatusCode())
	}
	return false
}

// Do runs f up to the configured number of attempts, backing off
// between attempts. It stops early when f succeeds, when f returns an
// error that is not recoverable, or when the context is done.
func Do(ctx context.Context, f func() error, opts ...Option) error {
	c := config{maxRetries: DefaultMaxRetries, baseWait: DefaultBaseWait}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	var lastError error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(c.baseWait) * math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
		err := f()
		if err == nil {
			return nil
		}
		lastError = err
		if !IsRecoverable(err) {
			return err
		}
	}
	return lastError
}
