package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// Executor runs operations under a retry Policy. It blocks the calling
// goroutine during backoff sleeps; run it on its own goroutine if the
// caller needs parallelism.
type Executor struct {
	policy Policy
	clock  quartz.Clock
	logger *zap.Logger
	fib    []int64
	rand   func() float64
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock substitutes the clock used for backoff sleeps. Tests use a
// quartz mock so they never really sleep.
func WithClock(c quartz.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logging collaborator. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor. Zero-valued policy fields are replaced with
// defaults; the Fibonacci table is precomputed with headroom past
// MaxAttempts, matching the exponential fallback boundary.
func New(policy Policy, opts ...Option) *Executor {
	policy = policy.withDefaults()
	e := &Executor{
		policy: policy,
		clock:  quartz.NewReal(),
		logger: zap.NewNop(),
		fib:    fibSequence(policy.MaxAttempts + 5),
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's normalized policy.
func (e *Executor) Policy() Policy { return e.policy }

// Delay returns the backoff delay before attempt+1 (attempt is
// 0-indexed): the strategy formula clamped to MaxDelay, plus additive
// jitter when enabled.
func (e *Executor) Delay(attempt int) time.Duration {
	d := delayFor(e.policy, e.fib, attempt)
	if e.policy.Jitter {
		d += time.Duration(float64(d) * e.policy.JitterFactor * e.rand())
	}
	return d
}

// Run executes op under the retry policy, discarding any result value.
func (e *Executor) Run(ctx context.Context, op func(context.Context) error) error {
	_, err := Run(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run executes op until it succeeds, the policy is exhausted, or a
// non-retryable failure occurs. The first success short-circuits.
// Failures classified NonRetryable return a *NonRetryableError;
// exhausted or unclassified failures return an *ExhaustedError. The
// final attempt is never followed by a sleep.
func Run[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var zero T
	max := e.policy.MaxAttempts

	for attempt := 0; attempt < max; attempt++ {
		e.logger.Debug("attempting operation",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", max))

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("operation succeeded after retry",
					zap.Int("attempts", attempt+1))
			}
			return result, nil
		}

		switch e.policy.Classify(err) {
		case NonRetryable:
			e.logger.Error("non-retryable failure", zap.Error(err))
			return zero, &NonRetryableError{Attempts: attempt + 1, Err: err}

		case Retryable:
			if attempt+1 == max {
				e.logger.Error("final attempt failed",
					zap.Int("attempts", max), zap.Error(err))
				return zero, &ExhaustedError{Attempts: max, Err: err}
			}
			delay := e.Delay(attempt)
			e.logger.Warn("operation failed, backing off",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", max),
				zap.Duration("delay", delay),
				zap.Error(err))
			if serr := e.sleep(ctx, delay); serr != nil {
				return zero, serr
			}

		default:
			e.logger.Error("unclassified failure", zap.Error(err))
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}
	}

	// Unreachable: the loop always returns.
	return zero, &ExhaustedError{Attempts: max, Err: nil}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := e.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
