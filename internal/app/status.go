package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/domain"
	"tuition-payflow/internal/scheduler"
)

// Status prints the processor status of a transaction. With Watch it polls until the
// transaction reaches a terminal state or the poller ceiling elapses.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	if opts.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	client := a.newBackend()
	if !opts.Watch {
		status, err := client.TransactionStatus(ctx, opts.TransactionID)
		if err != nil {
			return err
		}
		printStatus(os.Stdout, status)
		return nil
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = a.Config.Poller.Interval
	}
	return watchStatus(ctx, client, opts.TransactionID, scheduler.Options{
		Interval:    interval,
		Immediate:   true,
		MaxDuration: a.Config.Poller.MaxDuration,
		Name:        "status_watch",
	}, os.Stdout, a.Logger)
}

func watchStatus(ctx context.Context, client backend.API, txID string, opts scheduler.Options, out io.Writer, logger zerolog.Logger) error {
	var last domain.TransactionState
	err := scheduler.New(opts, logger).Run(ctx, func(ctx context.Context, attempt int) error {
		status, err := client.TransactionStatus(ctx, txID)
		if err != nil {
			return err
		}
		if status.Status != last {
			printStatus(out, status)
			last = status.Status
		}
		if status.Status.Terminal() {
			return scheduler.ErrStop
		}
		return nil
	})
	if errors.Is(err, scheduler.ErrMaxDuration) {
		return fmt.Errorf("transaction %s still %s after %s", txID, last, opts.MaxDuration)
	}
	return err
}

func printStatus(out io.Writer, status domain.TransactionStatus) {
	fmt.Fprintf(out, "%s\t%s\t%s %s\t%s\n",
		status.ResourceID,
		status.Status,
		formatDecimal(status.Amount, 2),
		status.Currency,
		status.UpdatedAt.UTC().Format(time.RFC3339),
	)
}
