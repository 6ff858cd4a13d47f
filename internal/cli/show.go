package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tuition-payflow/internal/app"
)

var (
	showLimit   int
	showSession string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently issued quotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit, SessionPrefix: showSession})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of quotes to read from history")
	showCmd.Flags().StringVar(&showSession, "session", "", "Only show quotes for session ids with this prefix")
}
