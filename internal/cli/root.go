package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tuition-payflow/internal/app"
	"tuition-payflow/internal/config"
	"tuition-payflow/internal/logging"
)

// overrides are persistent flags that win over the config file and PAYFLOW_* env.
type overrides struct {
	logLevel      string
	storageDriver string
	sqlitePath    string
	databaseDSN   string
	backendURL    string
}

var (
	cfgFile   string
	flags     overrides
	appHandle *app.App
)

// apply copies set flags onto cfg and re-validates it, so a flag cannot smuggle in a
// combination the loader would have rejected.
func (o overrides) apply(cfg *config.Config) error {
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.storageDriver != "" {
		cfg.Storage.Driver = o.storageDriver
	}
	if o.sqlitePath != "" {
		cfg.Storage.SQLitePath = o.sqlitePath
	}
	if o.databaseDSN != "" {
		cfg.Storage.DSN = o.databaseDSN
	}
	if o.backendURL != "" {
		cfg.Backend.BaseURL = o.backendURL
	}
	return cfg.Validate()
}

var rootCmd = &cobra.Command{
	Use:          "payflow",
	Short:        "Tuition payment wizard: quotes, PIX payments and settlement tracking",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := flags.apply(cfg); err != nil {
			return fmt.Errorf("flags: %w", err)
		}

		logger := logging.NewLogger(cfg.Logging)
		logger.Debug().
			Str("environment", cfg.App.Environment).
			Str("storage", cfg.Storage.Driver).
			Str("backend", cfg.Backend.BaseURL).
			Msg("configuration loaded")
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log level defined in config")
	pf.StringVar(&flags.storageDriver, "storage", "", "Session store driver: memory, sqlite or postgres")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "SQLite database file (sqlite driver)")
	pf.StringVar(&flags.databaseDSN, "dsn", "", "PostgreSQL DSN (postgres driver)")
	pf.StringVar(&flags.backendURL, "backend-url", "", "Base URL of the payment/KYC backend")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
