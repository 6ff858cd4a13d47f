package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "test", cfg.App.Name)
	require.Equal(t, 5*time.Minute, cfg.Flow.QuoteWindow)
	require.Equal(t, 3*time.Second, cfg.Poller.Interval)
	require.Equal(t, 10*time.Minute, cfg.Poller.MaxDuration)
	require.Equal(t, 16.0, cfg.Flow.MinimumUSD)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: memory\npoller:\n  interval: 5s\nflow:\n  minimum_usd: 20\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DriverMemory, cfg.Storage.Driver)
	require.Equal(t, 5*time.Second, cfg.Poller.Interval)
	require.Equal(t, 20.0, cfg.Flow.MinimumUSD)
}

func TestValidateRejects(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backend: BackendConfig{BaseURL: "http://x", FallbackRate: 5},
			Flow:    FlowConfig{QuoteWindow: time.Minute, TickInterval: time.Second, SessionMaxAge: time.Minute, ProbeUSD: 100},
			Poller:  PollerConfig{Interval: time.Second, MaxDuration: time.Minute},
			Storage: StorageConfig{Driver: DriverMemory},
			Export:  ExportConfig{MaxDataPoints: 1},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"unknown driver":    func(c *Config) { c.Storage.Driver = "redis" },
		"postgres no dsn":   func(c *Config) { c.Storage.Driver = DriverPostgres },
		"zero poll":         func(c *Config) { c.Poller.Interval = 0 },
		"ceiling too short": func(c *Config) { c.Poller.MaxDuration = time.Millisecond },
		"telegram no token": func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"zero window":       func(c *Config) { c.Flow.QuoteWindow = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}
