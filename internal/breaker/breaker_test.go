package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("service down")

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errDown
	}
}

func TestOpensAtThreshold(t *testing.T) {
	mClock := quartz.NewMock(t)
	b := New(3, time.Minute, WithClock(mClock))
	ctx := context.Background()

	calls := 0
	for i := 0; i < 2; i++ {
		err := b.Call(ctx, failingOp(&calls))
		require.ErrorIs(t, err, errDown)
		require.Equal(t, StateClosed, b.State())
	}

	// Third consecutive failure trips the circuit.
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)
	require.Equal(t, StateOpen, b.State())
	require.Equal(t, 3, b.Failures())
	require.Equal(t, 3, calls)
}

func TestOpenFailsFastWithoutInvoking(t *testing.T) {
	mClock := quartz.NewMock(t)
	b := New(1, time.Minute, WithClock(mClock))
	ctx := context.Background()

	calls := 0
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)
	require.Equal(t, StateOpen, b.State())

	// Cooldown has not elapsed: the operation must not run.
	mClock.Advance(30 * time.Second)
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), ErrOpen)
	require.Equal(t, 1, calls)
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	mClock := quartz.NewMock(t)
	b := New(1, time.Minute, WithClock(mClock))
	ctx := context.Background()

	calls := 0
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)
	require.Equal(t, StateOpen, b.State())

	mClock.Advance(time.Minute)

	// The probe runs and its success closes the circuit and resets the
	// failure count.
	err := b.Call(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, 0, b.Failures())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	mClock := quartz.NewMock(t)
	b := New(1, time.Minute, WithClock(mClock))
	ctx := context.Background()

	calls := 0
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)

	mClock.Advance(time.Minute)
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)
	require.Equal(t, StateOpen, b.State())
	require.Equal(t, 2, calls)

	// Reopened: back to failing fast until the next cooldown.
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), ErrOpen)
	require.Equal(t, 2, calls)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)
	ctx := context.Background()

	calls := 0
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)
	require.ErrorIs(t, b.Call(ctx, failingOp(&calls)), errDown)
	require.Equal(t, 2, b.Failures())

	require.NoError(t, b.Call(ctx, func(context.Context) error { return nil }))
	require.Equal(t, 0, b.Failures())
	require.Equal(t, StateClosed, b.State())
}

func TestGenericCallReturnsValue(t *testing.T) {
	b := New(3, time.Minute)

	got, err := Call(context.Background(), b, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "half-open", StateHalfOpen.String())
}
