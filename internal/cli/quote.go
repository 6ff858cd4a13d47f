package cli

import (
	"github.com/spf13/cobra"

	"tuition-payflow/internal/app"
)

var (
	quoteUSD    string
	quoteLocal  string
	quoteSymbol string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Request a locked quote for a tuition amount",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Quote(cmd.Context(), app.QuoteOptions{
			AmountUSD:   quoteUSD,
			AmountLocal: quoteLocal,
			Symbol:      quoteSymbol,
		})
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteUSD, "usd", "", "Amount in USD")
	quoteCmd.Flags().StringVar(&quoteLocal, "local", "", "Amount in local currency (converted via a probe quote)")
	quoteCmd.Flags().StringVar(&quoteSymbol, "symbol", "", "Currency pair (defaults to config)")
	quoteCmd.MarkFlagsMutuallyExclusive("usd", "local")
	quoteCmd.MarkFlagsOneRequired("usd", "local")
}
