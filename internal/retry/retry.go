// Package retry implements the bounded-retry policy of spec.md §7: Store
// calls classified as transient (connection-drop, timeout, try-again,
// generic "ERR" response, type-mismatch) are retried up to a fixed attempt budget with no backoff;
// every other error is propagated immediately.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// IsTransient classifies an error returned by the Store as transient,
// mirroring the original Rust implementation's RedisError::kind() switch
// (original_source/src/repository.rs with_redis_retry): connection drops,
// timeouts, "try again" responses, generic response errors, and
// type-mismatch symptoms observed under load are all treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "ERR "):
		return true
	case strings.Contains(msg, "LOADING"):
		return true
	case strings.Contains(msg, "TRYAGAIN"):
		return true
	case strings.Contains(msg, "CLUSTERDOWN"):
		return true
	case strings.Contains(msg, "WRONGTYPE"):
		return true
	case strings.Contains(msg, "connection reset"):
		return true
	case strings.Contains(msg, "broken pipe"):
		return true
	case strings.Contains(msg, "i/o timeout"):
		return true
	}

	return false
}

// Do runs action up to attempts times, retrying only transient errors
// (spec.md §6.6 "Store retry budget": 5 attempts) and returning immediately
// on the first permanent error or the final transient one. There is
// intentionally no backoff between attempts (spec.md §9 design notes).
func Do(attempts int, action func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := action()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
	}
	return lastErr
}
