package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tuition-payflow/internal/logging"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Flow     FlowConfig     `mapstructure:"flow"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BackendConfig covers the external payment/KYC API.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Symbol         string        `mapstructure:"symbol"`
	FallbackRate   float64       `mapstructure:"fallback_rate"`
}

// FlowConfig tunes the payment wizard.
type FlowConfig struct {
	QuoteWindow   time.Duration `mapstructure:"quote_window"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	MinimumUSD    float64       `mapstructure:"minimum_usd"`
	ProbeUSD      float64       `mapstructure:"probe_usd"`
}

// PollerConfig governs settlement polling cadence.
type PollerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig configures the wizard HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	CookieName     string        `mapstructure:"cookie_name"`
	RateRPS        float64       `mapstructure:"rate_rps"`
	RateBurst      int           `mapstructure:"rate_burst"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram ops channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "payflow")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("backend.base_url", "http://localhost:3001/api")
	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("backend.user_agent", "payflow/1.0")
	v.SetDefault("backend.symbol", "BRLUSD")
	v.SetDefault("backend.fallback_rate", 5.42)

	v.SetDefault("flow.quote_window", "5m")
	v.SetDefault("flow.session_max_age", "10m")
	v.SetDefault("flow.tick_interval", "1s")
	v.SetDefault("flow.minimum_usd", 16.0)
	v.SetDefault("flow.probe_usd", 100.0)

	v.SetDefault("poller.interval", "3s")
	v.SetDefault("poller.max_duration", "10m")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "payflow.db")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cookie_name", "payflow_session")
	v.SetDefault("server.rate_rps", 2.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.stream_interval", "1s")
	v.SetDefault("server.shutdown_grace", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.FallbackRate <= 0 {
		return fmt.Errorf("backend.fallback_rate must be greater than zero")
	}
	if c.Flow.QuoteWindow <= 0 {
		return fmt.Errorf("flow.quote_window must be greater than zero")
	}
	if c.Flow.TickInterval <= 0 {
		return fmt.Errorf("flow.tick_interval must be greater than zero")
	}
	if c.Flow.SessionMaxAge <= 0 {
		return fmt.Errorf("flow.session_max_age must be greater than zero")
	}
	if c.Flow.MinimumUSD < 0 {
		return fmt.Errorf("flow.minimum_usd cannot be negative")
	}
	if c.Flow.ProbeUSD <= 0 {
		return fmt.Errorf("flow.probe_usd must be greater than zero")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	if c.Poller.MaxDuration < c.Poller.Interval {
		return fmt.Errorf("poller.max_duration must be at least poller.interval")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
