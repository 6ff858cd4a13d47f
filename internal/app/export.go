package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"tuition-payflow/internal/domain"
)

// defaultExportWindow is the lookback used when --from is omitted.
const defaultExportWindow = 30 * 24 * time.Hour

// Export renders quote history as CSV and/or a PNG chart of effective rates.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = defaultExportWindow
	}
	from := to.Add(-lookback)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListQuotesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no quotes found for export window")
		return nil
	}

	downsampled := downsampleQuotes(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeQuotesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeQuotesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleQuotes(records []domain.QuoteRecord, max int) []domain.QuoteRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]domain.QuoteRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeQuotesCSV(path string, records []domain.QuoteRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"created_at", "session_id", "symbol", "amount_usd", "total_local_amount", "total_fee_usd", "effective_rate", "onramp_quote_id", "offramp_quote_id", "expires_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		expires := ""
		if !rec.ExpiresAt.IsZero() {
			expires = rec.ExpiresAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.SessionID,
			rec.Symbol,
			rec.AmountUSD.String(),
			rec.TotalLocalAmount.String(),
			rec.TotalFeeUSD.String(),
			rec.EffectiveRate.String(),
			rec.OnrampQuoteID,
			rec.OfframpQuoteID,
			expires,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeQuotesPNG(path string, records []domain.QuoteRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	rate := make([]float64, len(records))
	fees := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.CreatedAt
		rate[i] = rec.EffectiveRate.InexactFloat64()
		fees[i] = feePct(rec)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Effective rate (BRL/USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Fees (% of amount)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Effective rate",
				XValues: x,
				YValues: rate,
			},
			chart.TimeSeries{
				Name:    "Fees %",
				XValues: x,
				YValues: fees,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func feePct(rec domain.QuoteRecord) float64 {
	if !rec.AmountUSD.IsPositive() {
		return 0
	}
	return rec.TotalFeeUSD.Div(rec.AmountUSD).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
