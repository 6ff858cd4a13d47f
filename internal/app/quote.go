package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tuition-payflow/internal/quote"
)

// Quote requests a single quote and prints its breakdown. The quote is recorded in
// history under the "cli" session.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	if (opts.AmountUSD == "") == (opts.AmountLocal == "") {
		return errors.New("exactly one of --usd or --local must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	in := quote.Input{SessionID: "cli", Symbol: opts.Symbol}
	if opts.AmountUSD != "" {
		if in.AmountUSD, err = quote.ParseAmount(opts.AmountUSD); err != nil {
			return fmt.Errorf("invalid --usd value: %w", err)
		}
	} else {
		if in.AmountLocal, err = quote.ParseAmount(opts.AmountLocal); err != nil {
			return fmt.Errorf("invalid --local value: %w", err)
		}
	}

	q, err := a.newRequester(a.newBackend(), store).Request(ctx, in, nil)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value decimal.Decimal
		unit  string
	}{
		{"Amount", q.AmountUSD, "USD"},
		{"Onramp rate", q.Onramp.Rate, q.Symbol},
		{"Onramp fee", q.Onramp.FlatFee, "USD"},
		{"Offramp fee", q.Offramp.FlatFee, "USD"},
		{"Total fees", q.TotalFeeUSD, "USD"},
		{"Effective rate", q.EffectiveRate, q.Symbol},
		{"Total to pay", q.TotalLocalAmount, "BRL"},
	}
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", row.label, formatDecimal(row.value, 2), row.unit)
	}
	if exp := q.Expiry(); !exp.IsZero() {
		fmt.Fprintf(writer, "Expires\t%s\t\n", exp.Format(time.RFC3339))
	}
	return writer.Flush()
}
