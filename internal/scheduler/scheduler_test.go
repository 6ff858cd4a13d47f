package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStopsOnSentinel(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, Immediate: true}, zerolog.Nop())

	var calls int
	err := s.Run(context.Background(), func(_ context.Context, attempt int) error {
		calls = attempt
		if attempt == 3 {
			return ErrStop
		}
		return errors.New("transient")
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunHonoursCeiling(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, MaxDuration: 30 * time.Millisecond}, zerolog.Nop())

	err := s.Run(context.Background(), func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, ErrMaxDuration)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	err := s.Run(ctx, func(context.Context, int) error {
		t.Fatal("tick must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
