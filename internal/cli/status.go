package cli

import (
	"time"

	"github.com/spf13/cobra"

	"tuition-payflow/internal/app"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <transaction-id>",
	Short: "Show the processor status of a PIX transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), app.StatusOptions{
			TransactionID: args[0],
			Watch:         statusWatch,
			Interval:      statusInterval,
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Poll until the transaction reaches a terminal state")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 0, "Polling interval (defaults to poller.interval)")
}
