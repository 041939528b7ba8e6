package reconcile

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/tmarbach/daybook/pkg/remote"
)

// ErrNotConfigured indicates no remote backend was wired in. Terminal.
var ErrNotConfigured = errors.New("no remote backend configured")

// FailureCode classifies why a sync attempt failed. Only FailureNetwork is
// retryable; every other code returns to the caller immediately.
type FailureCode string

const (
	FailureNone          FailureCode = ""
	FailureNotConfigured FailureCode = "not_configured"
	FailureAuth          FailureCode = "auth"
	FailureNetwork       FailureCode = "network"
	FailureConflict      FailureCode = "conflict"
	FailureUnknown       FailureCode = "unknown"
)

// Retryable reports whether a failure with this code is worth retrying.
func (c FailureCode) Retryable() bool {
	return c == FailureNetwork
}

// Classify inspects an error and returns its failure code. Backend errors
// rarely carry structured codes, so classification falls back to inspecting
// the error text.
func Classify(err error) FailureCode {
	if err == nil {
		return FailureNone
	}

	if errors.Is(err, ErrNotConfigured) {
		return FailureNotConfigured
	}
	if errors.Is(err, remote.ErrSignedOut) {
		return FailureAuth
	}

	errStrLower := strings.ToLower(err.Error())

	if strings.Contains(errStrLower, "unauthorized") ||
		strings.Contains(errStrLower, "forbidden") ||
		strings.Contains(errStrLower, "signed out") ||
		strings.Contains(errStrLower, "invalid token") {
		return FailureAuth
	}

	// Timeouts are transient, same bucket as network.
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(errStrLower, "timeout") ||
		strings.Contains(errStrLower, "deadline exceeded") {
		return FailureNetwork
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	if strings.Contains(errStrLower, "connection refused") ||
		strings.Contains(errStrLower, "connection reset") ||
		strings.Contains(errStrLower, "no such host") ||
		strings.Contains(errStrLower, "network is unreachable") ||
		strings.Contains(errStrLower, "dial tcp") ||
		strings.Contains(errStrLower, "rate limited") ||
		strings.Contains(errStrLower, "server error") ||
		strings.Contains(errStrLower, "eof") {
		return FailureNetwork
	}

	if strings.Contains(errStrLower, "conflict") {
		return FailureConflict
	}

	return FailureUnknown
}
