package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tuition-payflow/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export quote history as CSV and/or an effective-rate PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportDays < 0 {
			return fmt.Errorf("--days cannot be negative")
		}
		opts := app.ExportOptions{
			Lookback:  time.Duration(exportDays) * 24 * time.Hour,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		for flag, raw := range map[string]string{"from": exportFrom, "to": exportTo} {
			if raw == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("invalid --%s value: %w", flag, err)
			}
			if flag == "from" {
				opts.From = &ts
			} else {
				opts.To = &ts
			}
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive); overrides --days")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "Lookback window in days when --from is omitted")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the effective-rate chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write quote history CSV")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum quotes to export (defaults to config)")
}
