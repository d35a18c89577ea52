package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Preset policies for the failure modes the agent actually hits:
// flaky job-board endpoints, rate-limited APIs, and a busy SQLite file.

// NetworkPolicy retries transient network failures with a 2s base and a
// 30s cap. Context cancellation is never retried.
func NetworkPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    StrategyExponential,
		Jitter:      true,
		Classify:    ClassifyNetwork,
	}
}

// APIPolicy retries timed-out or dropped API calls harder than plain
// network errors: 5 attempts against a 60s cap.
func APIPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Strategy:    StrategyExponential,
		Jitter:      true,
		Classify:    ClassifyNetwork,
	}
}

// StoragePolicy retries storage operations using predicates supplied by
// the storage adapter, keeping this package decoupled from any engine's
// error types. transient errors (e.g. a locked database) are retried;
// terminal ones (e.g. constraint violations) abort immediately.
func StoragePolicy(transient, terminal func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Strategy:    StrategyExponential,
		Jitter:      true,
		Classify:    ClassifyBy(transient, terminal),
	}
}

// ClassifyNetwork classifies common transport failures. Cancellation and
// deadline expiry are non-retryable: the caller gave up, retrying would
// only fight the context.
func ClassifyNetwork(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NonRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}

	return Unclassified
}
