package llm

import "time"

// SetRetryBase shortens backoff for tests.
func SetRetryBase(d time.Duration) (restore func()) {
	prev := retryBase
	retryBase = d
	return func() { retryBase = prev }
}
