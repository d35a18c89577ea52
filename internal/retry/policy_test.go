package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{
		"exponential_backoff", "linear_backoff", "fixed_delay", "fibonacci_backoff",
	} {
		s, err := ParseStrategy(name)
		require.NoError(t, err)
		require.Equal(t, Strategy(name), s)
	}

	_, err := ParseStrategy("quadratic_backoff")
	require.Error(t, err)
}

func TestClassifyByNonRetryableWins(t *testing.T) {
	// An error matching both predicates must be classified non-retryable.
	always := func(error) bool { return true }
	c := ClassifyBy(always, always)
	require.Equal(t, NonRetryable, c(errBoom))

	c = ClassifyBy(always, nil)
	require.Equal(t, Retryable, c(errBoom))

	c = ClassifyBy(nil, nil)
	require.Equal(t, Unclassified, c(errBoom))
}

func TestClassifyNetwork(t *testing.T) {
	require.Equal(t, NonRetryable, ClassifyNetwork(context.Canceled))
	require.Equal(t, NonRetryable, ClassifyNetwork(context.DeadlineExceeded))
	require.Equal(t, Retryable, ClassifyNetwork(&net.DNSError{Err: "no such host", IsTimeout: false}))
	require.Equal(t, Retryable, ClassifyNetwork(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	require.Equal(t, Unclassified, ClassifyNetwork(errBoom))
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()

	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, time.Second, p.BaseDelay)
	require.Equal(t, 60*time.Second, p.MaxDelay)
	require.Equal(t, 2.0, p.Factor)
	require.Equal(t, 0.1, p.JitterFactor)
	require.Equal(t, StrategyExponential, p.Strategy)
	require.NotNil(t, p.Classify)

	// Explicit settings survive normalization.
	p = Policy{MaxAttempts: 7, Strategy: StrategyFibonacci}.withDefaults()
	require.Equal(t, 7, p.MaxAttempts)
	require.Equal(t, StrategyFibonacci, p.Strategy)
}

func TestStoragePolicyWiresPredicates(t *testing.T) {
	transient := errors.New("database is locked")
	terminal := errors.New("constraint failed")

	p := StoragePolicy(
		func(err error) bool { return errors.Is(err, transient) },
		func(err error) bool { return errors.Is(err, terminal) },
	)

	require.Equal(t, Retryable, p.Classify(transient))
	require.Equal(t, NonRetryable, p.Classify(terminal))
	require.Equal(t, Unclassified, p.Classify(errBoom))
}
