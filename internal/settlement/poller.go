package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/scheduler"
)

// Sink receives every polled observation. It returns true once tracking is finished.
type Sink interface {
	ApplySettlement(ctx context.Context, status domain.WebhookStatus) (done bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, status domain.WebhookStatus) bool

func (f SinkFunc) ApplySettlement(ctx context.Context, status domain.WebhookStatus) bool {
	return f(ctx, status)
}

// Options configure polling cadence.
type Options struct {
	Interval    time.Duration
	MaxDuration time.Duration
}

// Poller repeatedly reads the webhook mirror for a transaction.
type Poller struct {
	api    backend.API
	opts   Options
	logger zerolog.Logger
}

// NewPoller builds a Poller with 3s/10m defaults.
func NewPoller(api backend.API, opts Options, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 10 * time.Minute
	}
	return &Poller{api: api, opts: opts, logger: logger.With().Str("component", "settlement_poller").Logger()}
}

// Run polls until the sink reports completion, ctx ends, or the ceiling elapses.
// Reaching the ceiling is not an error.
func (p *Poller) Run(ctx context.Context, txID string, sink Sink) error {
	if txID == "" {
		return errors.New("settlement: empty transaction id")
	}
	logger := p.logger.With().Str("transaction_id", txID).Logger()
	sched := scheduler.New(scheduler.Options{
		Interval:    p.opts.Interval,
		Immediate:   true,
		MaxDuration: p.opts.MaxDuration,
		Name:        "settlement:" + txID,
	}, logger)

	logger.Info().Dur("interval", p.opts.Interval).Dur("max_duration", p.opts.MaxDuration).Msg("settlement polling started")
	err := sched.Run(ctx, func(ctx context.Context, attempt int) error {
		status, err := p.api.WebhookStatus(ctx, txID)
		if err != nil {
			return err
		}
		if sink.ApplySettlement(ctx, status) || status.OfframpCompleted {
			logger.Info().Int("attempt", attempt).Msg("settlement complete")
			return scheduler.ErrStop
		}
		return nil
	})
	if errors.Is(err, scheduler.ErrMaxDuration) {
		logger.Warn().Msg("settlement polling gave up")
		return nil
	}
	return err
}
