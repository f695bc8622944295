package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RecoverableError is implemented by errors that know whether the call that
// produced them may be attempted again.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// classified pins the recoverability of a wrapped error.
type classified struct {
	err         error
	recoverable bool
}

func (e *classified) Error() string       { return e.err.Error() }
func (e *classified) Unwrap() error       { return e.err }
func (e *classified) IsRecoverable() bool { return e.recoverable }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, recoverable: true}
}

// Permanent marks err as final. Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err}
}

// StatusError reports an unsuccessful response from a remote service.
// Server errors and throttling are recoverable.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) IsRecoverable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// transientMessages are substrings of error text from drivers and clients
// that do not expose typed errors.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"rate limit",
	"service unavailable",
	"bad gateway",
}

// IsRecoverable reports whether err may succeed on another attempt. An
// explicit classification wins. Otherwise deadlines and network timeouts are
// recoverable, cancellation is not, and the error text is matched last.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var rec RecoverableError
	if errors.As(err, &rec) {
		return rec.IsRecoverable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && urlErr.Err != err {
		if IsRecoverable(urlErr.Err) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
