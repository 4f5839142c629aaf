package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// LLMError is the base error type for provider failures.
type LLMError struct {
	Provider string
	Code     int
	Message  string
	Cause    error
}

func (e *LLMError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s error %d: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Code, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Cause }

// RateLimitError is returned when the provider rate-limits the request.
type RateLimitError struct{ LLMError }

// ServerError is returned on 5xx responses.
type ServerError struct{ LLMError }

// AuthError is returned on authentication or authorization failures.
type AuthError struct{ LLMError }

// InvalidRequestError is returned when the provider rejects the request.
type InvalidRequestError struct{ LLMError }

// FromStatus classifies a provider HTTP failure.
func FromStatus(provider string, code int, message string, cause error) error {
	base := LLMError{Provider: provider, Code: code, Message: message, Cause: cause}
	switch {
	case code == 429:
		return &RateLimitError{LLMError: base}
	case code == 401 || code == 403:
		return &AuthError{LLMError: base}
	case code == 400 || code == 404 || code == 422:
		return &InvalidRequestError{LLMError: base}
	case code >= 500:
		return &ServerError{LLMError: base}
	}
	return &base
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}

// retryBase is the first backoff step; tests shorten it.
var retryBase = time.Second

// WithRetry calls fn up to maxAttempts times, backing off exponentially with
// jitter between retryable failures. It stops early on context cancellation.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		wait := retryBase << uint(i)
		if wait > 30*retryBase {
			wait = 30 * retryBase
		}
		wait = wait/4*3 + time.Duration(rand.Float64()*0.5*float64(wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}
