package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"tuition-payflow/internal/domain"
)

// Show prints recently issued quotes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListRecentQuotes(ctx, opts.Limit)
	if err != nil {
		return err
	}
	records = filterSession(records, opts.SessionPrefix)
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no quotes found")
		return nil
	}
	return writeQuoteTable(os.Stdout, records)
}

func writeQuoteTable(out io.Writer, records []domain.QuoteRecord) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSession\tUSD\tLocal\tFees USD\tRate\tOnramp Quote")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			shortID(rec.SessionID),
			formatDecimal(rec.AmountUSD, 2),
			formatDecimal(rec.TotalLocalAmount, 2),
			formatDecimal(rec.TotalFeeUSD, 2),
			formatDecimal(rec.EffectiveRate, 4),
			rec.OnrampQuoteID,
		)
	}

	return writer.Flush()
}

func filterSession(records []domain.QuoteRecord, prefix string) []domain.QuoteRecord {
	if prefix == "" {
		return records
	}
	out := records[:0:0]
	for _, rec := range records {
		if strings.HasPrefix(rec.SessionID, prefix) {
			out = append(out, rec)
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
