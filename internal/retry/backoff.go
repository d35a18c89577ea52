package retry

import (
	"math"
	"time"
)

// fibSequence returns the first n Fibonacci numbers, 1-indexed
// (fib(0)=1, fib(1)=1, fib(2)=2, ...), saturating instead of
// overflowing.
func fibSequence(n int) []int64 {
	if n <= 0 {
		return nil
	}
	seq := make([]int64, 0, n)
	seq = append(seq, 1)
	if n == 1 {
		return seq
	}
	seq = append(seq, 1)
	for i := 2; i < n; i++ {
		next := seq[i-1] + seq[i-2]
		if next < seq[i-1] {
			next = math.MaxInt64
		}
		seq = append(seq, next)
	}
	return seq
}

// delayFor computes the pre-jitter delay before attempt+1, where attempt
// is 0-indexed, clamped to p.MaxDelay. Attempts beyond the precomputed
// Fibonacci table fall back to the exponential formula.
func delayFor(p Policy, fib []int64, attempt int) time.Duration {
	var d float64
	switch p.Strategy {
	case StrategyExponential:
		d = float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	case StrategyLinear:
		d = float64(p.BaseDelay) * float64(attempt+1)
	case StrategyFixed:
		d = float64(p.BaseDelay)
	case StrategyFibonacci:
		if attempt < len(fib) {
			d = float64(p.BaseDelay) * float64(fib[attempt])
		} else {
			d = float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
		}
	default:
		d = float64(p.BaseDelay)
	}

	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}
