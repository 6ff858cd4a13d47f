package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrStop is returned by a TickFunc to end the loop without error.
var ErrStop = errors.New("scheduler: stop")

// ErrMaxDuration is returned by Run when the ceiling elapses.
var ErrMaxDuration = errors.New("scheduler: max duration reached")

// TickFunc is invoked on every interval. attempt starts at 1.
type TickFunc func(ctx context.Context, attempt int) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// Immediate runs the first tick without waiting one interval.
	Immediate bool
	// MaxDuration bounds the whole run; zero means unbounded.
	MaxDuration time.Duration
	Name        string
}

// Scheduler drives periodic execution of a job.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	l := logger.With().Str("component", "scheduler")
	if opts.Name != "" {
		l = l.Str("job", opts.Name)
	}
	return &Scheduler{opts: opts, logger: l.Logger()}
}

// Run blocks, invoking tick every interval until ctx is cancelled, tick returns ErrStop,
// or MaxDuration elapses. Other tick errors are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	var deadline <-chan time.Time
	if s.opts.MaxDuration > 0 {
		ceiling := time.NewTimer(s.opts.MaxDuration)
		defer ceiling.Stop()
		deadline = ceiling.C
	}

	delay := s.opts.Interval
	if s.opts.Immediate {
		delay = 0
	}

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-deadline:
			timer.Stop()
			s.logger.Info().Int("attempts", attempt-1).Dur("max_duration", s.opts.MaxDuration).Msg("scheduler ceiling reached")
			return ErrMaxDuration
		case <-timer.C:
		}

		err := tick(ctx, attempt)
		switch {
		case errors.Is(err, ErrStop):
			s.logger.Debug().Int("attempt", attempt).Msg("scheduler stopped by job")
			return nil
		case err != nil:
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("tick execution failed")
		}
		delay = s.opts.Interval
	}
}
