// Package breaker implements a three-state circuit breaker that
// short-circuits calls to a failing operation during a cooldown window.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// ErrOpen is returned by Call while the circuit is open and the
// recovery timeout has not elapsed. Callers must treat it distinctly
// from a genuine operation failure: the operation was never invoked.
var ErrOpen = errors.New("circuit breaker is open")

// State is the circuit's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker gates an operation through the circuit state. It holds plain
// mutable fields with no lock: safe only under single-threaded use or
// with external synchronization supplied by the caller.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	state       State
	failures    int
	lastFailure time.Time

	clock  quartz.Clock
	logger *zap.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock substitutes the clock used for the cooldown window.
func WithClock(c quartz.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithLogger sets the logging collaborator.
func WithLogger(l *zap.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New creates a closed Breaker that opens after failureThreshold
// consecutive failures and probes again after recoveryTimeout.
func New(failureThreshold int, recoveryTimeout time.Duration, opts ...Option) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	b := &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		clock:            quartz.NewReal(),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the circuit's current position.
func (b *Breaker) State() State { return b.state }

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int { return b.failures }

// Call invokes op through the circuit. While open, it fails fast with
// ErrOpen until the recovery timeout elapses, then lets one probe
// through in the half-open state. A success closes the circuit and
// resets the failure count; a failure is counted, may (re)open the
// circuit, and is propagated unchanged.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call is the generic form of Breaker.Call for operations that return a
// value.
func Call[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if b.state == StateOpen {
		if !b.cooldownElapsed() {
			return zero, ErrOpen
		}
		b.state = StateHalfOpen
		b.logger.Info("circuit breaker half-open, probing")
	}

	result, err := op(ctx)
	if err != nil {
		b.failures++
		b.lastFailure = b.clock.Now()
		if b.failures >= b.failureThreshold {
			if b.state != StateOpen {
				b.logger.Error("circuit breaker opened",
					zap.Int("failures", b.failures))
			}
			b.state = StateOpen
		}
		return zero, err
	}

	if b.state == StateHalfOpen {
		b.logger.Info("circuit breaker closed, service recovered")
	}
	b.state = StateClosed
	b.failures = 0
	return result, nil
}

func (b *Breaker) cooldownElapsed() bool {
	if b.lastFailure.IsZero() {
		return false
	}
	return b.clock.Since(b.lastFailure) >= b.recoveryTimeout
}
