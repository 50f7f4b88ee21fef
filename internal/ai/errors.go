package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindRateLimited   ErrorKind = "rate_limited"
	KindProviderError ErrorKind = "provider_error"
	KindNetworkError  ErrorKind = "network_error"
)

// Error is the only error type Classify returns.
type Error struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("ai %s after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("ai %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindProviderError
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var aiErr *Error
	return errors.As(err, &aiErr) && aiErr.Kind == kind
}

// classify maps a provider error onto an ErrorKind. attemptCtx is the
// per-call context, so its deadline identifies our own timeout even when the
// SDK wraps the cause in something opaque.
func classify(attemptCtx context.Context, err error) *Error {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr
	}

	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(attemptCtx.Err(), context.DeadlineExceeded),
		strings.Contains(lower, "deadline exceeded"):
		return &Error{Kind: KindTimeout, Err: err}
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "too many requests"):
		return &Error{Kind: KindRateLimited, Err: err}
	case isNetworkError(err, lower):
		return &Error{Kind: KindNetworkError, Err: err}
	default:
		return &Error{Kind: KindProviderError, Err: err}
	}
}

func isNetworkError(err error, lower string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "broken pipe", "unexpected eof"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
