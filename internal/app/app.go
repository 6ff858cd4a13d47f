package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuition-payflow/internal/alerting"
	"tuition-payflow/internal/backend"
	"tuition-payflow/internal/config"
	"tuition-payflow/internal/quote"
	"tuition-payflow/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newBackend() *backend.Client {
	return backend.NewClient(backend.Options{
		BaseURL:   a.Config.Backend.BaseURL,
		APIKey:    a.Config.Backend.APIKey,
		Timeout:   a.Config.Backend.RequestTimeout,
		UserAgent: a.Config.Backend.UserAgent,
	}, a.Logger)
}

func (a *App) newRequester(api backend.API, history storage.QuoteHistory) *quote.Requester {
	return quote.NewRequester(api, history, quote.Options{
		Symbol:       a.Config.Backend.Symbol,
		MinimumUSD:   decimal.NewFromFloat(a.Config.Flow.MinimumUSD),
		ProbeUSD:     decimal.NewFromFloat(a.Config.Flow.ProbeUSD),
		FallbackRate: decimal.NewFromFloat(a.Config.Backend.FallbackRate),
	}, a.Logger)
}

// newNotifier always logs milestones and fans out to Telegram when configured.
func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	return store, closer, nil
}

// ExportOptions hold parameters for exporting quote history.
type ExportOptions struct {
	From *time.Time
	To   *time.Time
	// Lookback applies when From is nil.
	Lookback  time.Duration
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// SessionPrefix keeps only quotes whose session id starts with it.
	SessionPrefix string
}

// QuoteOptions configure a one-off quote from the command line.
type QuoteOptions struct {
	AmountUSD   string
	AmountLocal string
	Symbol      string
}

// StatusOptions configure the status command.
type StatusOptions struct {
	TransactionID string
	Watch         bool
	Interval      time.Duration
}
