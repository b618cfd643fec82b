package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Market.LookbackDays)
	assert.Equal(t, "Asia/Taipei", cfg.Market.Timezone)
	assert.Equal(t, BackendSqlite, cfg.Store.Backend)
	assert.Equal(t, "user", cfg.Watchlist.Scope)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
market:
  lookback_days: 3
  names:
    "2330": 台積電
watchlist:
  scope: global
  seed: ["0050", "2330"]
broadcast:
  enabled: true
  triggers: ["09:00"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Market.LookbackDays)
	assert.Equal(t, "台積電", cfg.Market.Names["2330"])
	assert.Equal(t, "global", cfg.Watchlist.Scope)
	assert.Equal(t, []string{"0050", "2330"}, cfg.Watchlist.Seed)
	assert.True(t, cfg.Broadcast.Enabled)
	assert.Equal(t, []string{"09:00"}, cfg.Broadcast.Triggers)
	// untouched defaults survive
	assert.Equal(t, 4, cfg.Market.MaxConcurrency)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("LINE_CHANNEL_SECRET", "s3cret")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "tok")
	t.Setenv("LINE_USER_IDS", "Uaaa, Ubbb,,")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Line.ChannelSecret)
	assert.Equal(t, "tok", cfg.Line.ChannelAccessToken)
	assert.Equal(t, []string{"Uaaa", "Ubbb"}, cfg.Broadcast.Subscribers)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
}

func TestInvalidPort(t *testing.T) {
	t.Setenv("PORT", "abc")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PORT")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"lookback too small": func(c *Config) { c.Market.LookbackDays = 2 },
		"lookback too large": func(c *Config) { c.Market.LookbackDays = 6 },
		"no base url":        func(c *Config) { c.Market.BaseURLs = nil },
		"bad timezone":       func(c *Config) { c.Market.Timezone = "Mars/Olympus" },
		"bad backend":        func(c *Config) { c.Store.Backend = "etcd" },
		"bad scope":          func(c *Config) { c.Watchlist.Scope = "team" },
		"bad trigger":        func(c *Config) { c.Broadcast.Triggers = []string{"9am"} },
		"bad seed":           func(c *Config) { c.Watchlist.Seed = []string{"2330", "abc"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Watchlist.Seed = []string{" 2330", "00878"}
	assert.NoError(t, cfg.Validate())
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock(" 13:35 ")
	require.NoError(t, err)
	assert.Equal(t, 13, h)
	assert.Equal(t, 35, m)

	_, _, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
