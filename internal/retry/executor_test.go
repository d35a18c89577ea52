package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fixedPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Strategy:    StrategyFixed,
	}
}

func TestRunFirstSuccessShortCircuits(t *testing.T) {
	e := New(fixedPolicy(3))

	calls := 0
	result, err := Run(context.Background(), e, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 1, calls)
}

// TestRunRetriesThenSucceeds drives the backoff sleeps with a mock
// clock: an operation failing twice under max_attempts=3 sleeps exactly
// twice, then returns the success result.
func TestRunRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer()
	defer trap.Close()

	e := New(fixedPolicy(3), WithClock(mClock))

	calls := 0
	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := Run(ctx, e, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errBoom
			}
			return "ok", nil
		})
		done <- outcome{result, err}
	}()

	for i := 0; i < 2; i++ {
		call := trap.MustWait(ctx)
		call.MustRelease(ctx)
		require.Equal(t, time.Second, call.Duration)
		mClock.Advance(call.Duration).MustWait(ctx)
	}

	got := <-done
	require.NoError(t, got.err)
	require.Equal(t, "ok", got.result)
	require.Equal(t, 3, calls)
}

func TestRunNonRetryableAbortsImmediately(t *testing.T) {
	p := fixedPolicy(5)
	p.Classify = func(error) Class { return NonRetryable }
	e := New(p)

	calls := 0
	_, err := Run(context.Background(), e, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})

	require.Equal(t, 1, calls)
	require.True(t, IsNonRetryable(err))
	require.ErrorIs(t, err, errBoom)

	var nre *NonRetryableError
	require.ErrorAs(t, err, &nre)
	require.Equal(t, 1, nre.Attempts)
}

// TestRunExhausted verifies an always-failing retryable operation with
// max_attempts=3 sleeps exactly twice and surfaces attempts_made == 3.
func TestRunExhausted(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer()
	defer trap.Close()

	e := New(fixedPolicy(3), WithClock(mClock))

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, e, func(context.Context) (int, error) {
			calls++
			return 0, errBoom
		})
		done <- err
	}()

	// Exactly max_attempts-1 sleeps; the final attempt is not followed
	// by one, so the error arrives without a third timer.
	for i := 0; i < 2; i++ {
		call := trap.MustWait(ctx)
		call.MustRelease(ctx)
		mClock.Advance(call.Duration).MustWait(ctx)
	}

	err := <-done
	require.Equal(t, 3, calls)
	require.True(t, IsExhausted(err))
	require.ErrorIs(t, err, errBoom)

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, 3, ee.Attempts)
}

func TestRunUnclassifiedSurfacesExhausted(t *testing.T) {
	p := fixedPolicy(5)
	p.Classify = func(error) Class { return Unclassified }
	e := New(p)

	calls := 0
	_, err := Run(context.Background(), e, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})

	require.Equal(t, 1, calls)
	require.True(t, IsExhausted(err))

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, 1, ee.Attempts)
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer()
	defer trap.Close()

	e := New(fixedPolicy(3), WithClock(mClock))

	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, e, func(context.Context) (int, error) {
			return 0, errBoom
		})
		done <- err
	}()

	call := trap.MustWait(context.Background())
	call.MustRelease(context.Background())
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
}

func TestExecutorRunDiscardsResult(t *testing.T) {
	e := New(fixedPolicy(1))

	err := e.Run(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)

	err = e.Run(context.Background(), func(context.Context) error { return errBoom })
	require.True(t, IsExhausted(err))
}
