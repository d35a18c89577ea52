package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayFormulas(t *testing.T) {
	base := 100 * time.Millisecond

	tests := []struct {
		name     string
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{"exponential attempt 0", StrategyExponential, 0, 100 * time.Millisecond},
		{"exponential attempt 1", StrategyExponential, 1, 200 * time.Millisecond},
		{"exponential attempt 2", StrategyExponential, 2, 400 * time.Millisecond},
		{"linear attempt 0", StrategyLinear, 0, 100 * time.Millisecond},
		{"linear attempt 1", StrategyLinear, 1, 200 * time.Millisecond},
		{"linear attempt 2", StrategyLinear, 2, 300 * time.Millisecond},
		{"fixed attempt 0", StrategyFixed, 0, 100 * time.Millisecond},
		{"fixed attempt 4", StrategyFixed, 4, 100 * time.Millisecond},
		{"fibonacci attempt 0", StrategyFibonacci, 0, 100 * time.Millisecond},
		{"fibonacci attempt 1", StrategyFibonacci, 1, 100 * time.Millisecond},
		{"fibonacci attempt 2", StrategyFibonacci, 2, 200 * time.Millisecond},
		{"fibonacci attempt 3", StrategyFibonacci, 3, 300 * time.Millisecond},
		{"fibonacci attempt 4", StrategyFibonacci, 4, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Policy{
				MaxAttempts: 10,
				BaseDelay:   base,
				MaxDelay:    time.Hour,
				Factor:      2.0,
				Strategy:    tt.strategy,
			})
			require.Equal(t, tt.want, e.Delay(tt.attempt))
		})
	}
}

func TestDelayClampedToMax(t *testing.T) {
	e := New(Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    2 * time.Second,
		Factor:      2.0,
		Strategy:    StrategyExponential,
	})

	require.Equal(t, time.Second, e.Delay(0))
	require.Equal(t, 2*time.Second, e.Delay(1))
	require.Equal(t, 2*time.Second, e.Delay(5))
}

func TestFibonacciFallsBackToExponential(t *testing.T) {
	// The table is precomputed with MaxAttempts+5 entries; beyond it the
	// exponential formula takes over.
	e := New(Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Hour,
		Factor:      2.0,
		Strategy:    StrategyFibonacci,
	})

	require.Len(t, e.fib, 7)
	require.Equal(t, 1024*time.Millisecond, e.Delay(10))
}

func TestJitterIsAdditive(t *testing.T) {
	e := New(Policy{
		MaxAttempts:  3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Hour,
		Strategy:     StrategyFixed,
		Jitter:       true,
		JitterFactor: 0.5,
	})

	e.rand = func() float64 { return 0 }
	require.Equal(t, 100*time.Millisecond, e.Delay(0))

	e.rand = func() float64 { return 0.5 }
	require.Equal(t, 125*time.Millisecond, e.Delay(0))

	// Sampled jitter stays within [delay, delay*(1+factor)).
	e.rand = nil
	e = New(e.policy)
	for range 100 {
		d := e.Delay(0)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 150*time.Millisecond)
	}
}

func TestFibSequence(t *testing.T) {
	require.Equal(t, []int64{1, 1, 2, 3, 5, 8, 13, 21}, fibSequence(8))
	require.Nil(t, fibSequence(0))
	require.Equal(t, []int64{1}, fibSequence(1))
}
