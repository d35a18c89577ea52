// Package retry provides a configurable retry executor with pluggable
// backoff strategies and error classification.
package retry

import (
	"fmt"
	"time"
)

// Strategy selects the backoff curve used between attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential_backoff"
	StrategyLinear      Strategy = "linear_backoff"
	StrategyFixed       Strategy = "fixed_delay"
	StrategyFibonacci   Strategy = "fibonacci_backoff"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyExponential, StrategyLinear, StrategyFixed, StrategyFibonacci:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown retry strategy %q", s)
}

// Class is a classifier's verdict for an operation error.
type Class int

const (
	// Unclassified errors are not retried; the executor surfaces them as
	// exhausted immediately.
	Unclassified Class = iota
	Retryable
	NonRetryable
)

// Classifier maps an operation error to a retry Class. A NonRetryable
// verdict always wins over Retryable, so classifiers built from several
// predicates must check their non-retryable conditions first.
type Classifier func(error) Class

// ClassifyAll treats every error as retryable.
func ClassifyAll(error) Class { return Retryable }

// ClassifyBy builds a Classifier from two predicates. nonRetryable is
// consulted first; either predicate may be nil.
func ClassifyBy(retryable, nonRetryable func(error) bool) Classifier {
	return func(err error) Class {
		if nonRetryable != nil && nonRetryable(err) {
			return NonRetryable
		}
		if retryable != nil && retryable(err) {
			return Retryable
		}
		return Unclassified
	}
}

// Policy configures retry behavior. The zero value of any field is
// replaced with its default by the executor, so callers only set what
// they care about.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay seeds the backoff curve.
	BaseDelay time.Duration
	// MaxDelay clamps the computed delay before jitter is applied.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter adds delay * JitterFactor * U(0,1) on top of the computed
	// delay. Jitter is strictly additive.
	Jitter       bool
	JitterFactor float64
	Strategy     Strategy
	// Classify decides whether a failure is retried. Defaults to
	// ClassifyAll.
	Classify Classifier
}

// DefaultPolicy mirrors the defaults of the original recovery config:
// 3 attempts, 1s base, 60s cap, factor 2, 10% jitter, exponential.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Factor:       2.0,
		Jitter:       true,
		JitterFactor: 0.1,
		Strategy:     StrategyExponential,
		Classify:     ClassifyAll,
	}
}

// withDefaults fills unset fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Factor <= 0 {
		p.Factor = d.Factor
	}
	if p.JitterFactor <= 0 {
		p.JitterFactor = d.JitterFactor
	}
	if p.Strategy == "" {
		p.Strategy = d.Strategy
	}
	if p.Classify == nil {
		p.Classify = ClassifyAll
	}
	return p
}
