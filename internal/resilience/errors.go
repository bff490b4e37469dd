package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the failure taxonomy.
var (
	// ErrCircuitOpen is returned when a call is rejected without being
	// attempted because the breaker for its dependency is open.
	ErrCircuitOpen = errors.New("inferd: circuit open")

	// ErrRetriesExhausted is returned after the last retry attempt failed.
	ErrRetriesExhausted = errors.New("inferd: retries exhausted")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different payload.
	ErrIdempotencyConflict = errors.New("inferd: idempotency key conflict")

	// ErrBufferFull is returned when the log buffer rejects a record.
	ErrBufferFull = errors.New("inferd: log buffer full")
)

// DependencyError wraps a failure of an external store operation with enough
// context to classify and report it.
type DependencyError struct {
	Dependency string
	Op         string
	Err        error
	Timeout    bool
}

func (e *DependencyError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s timed out: %v", e.Dependency, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Dependency, e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// NewDependencyError wraps err for the given dependency operation, marking it
// as a timeout when the cause is a deadline.
func NewDependencyError(dependency, op string, err error) *DependencyError {
	return &DependencyError{
		Dependency: dependency,
		Op:         op,
		Err:        err,
		Timeout:    isTimeout(err),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether an operation failing with err may succeed on a
// later attempt. Timeouts and connection-level failures are retryable;
// malformed requests and context cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrIdempotencyConflict) {
		return false
	}
	if isTimeout(err) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	s := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"eof",
		"bad connection",
		"server closed",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
