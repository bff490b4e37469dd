package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("get failed: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:6379: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"io timeout", errors.New("i/o timeout"), true},
		{"server closed", errors.New("pq: the database system is shutting down: server closed"), true},
		{"circuit open", ErrCircuitOpen, false},
		{"conflict", ErrIdempotencyConflict, false},
		{"malformed", errors.New("syntax error at or near SELECT"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDependencyErrorWrapping(t *testing.T) {
	cause := context.DeadlineExceeded
	err := NewDependencyError("redis", "cache_get", cause)

	if !err.Timeout {
		t.Error("deadline cause should mark the error as a timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("wrapped cause must survive errors.Is")
	}

	var depErr *DependencyError
	if !errors.As(error(err), &depErr) {
		t.Fatal("errors.As failed")
	}
	if depErr.Dependency != "redis" || depErr.Op != "cache_get" {
		t.Errorf("unexpected fields: %+v", depErr)
	}
}
