package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"line-stock-bot/internal/quote"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Line       LineConfig       `yaml:"line"`
	Push       PushConfig       `yaml:"push"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Store      StoreConfig      `yaml:"store"`
	Market     MarketConfig     `yaml:"market"`
	Watchlist  WatchlistConfig  `yaml:"watchlist"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Commentary CommentaryConfig `yaml:"commentary"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type LineConfig struct {
	ChannelSecret      string `yaml:"channel_secret"`
	ChannelAccessToken string `yaml:"channel_access_token"`
	BaseURL            string `yaml:"base_url"`
	TimeoutMs          int    `yaml:"timeout_ms"`
}

type PushConfig struct {
	Dingtalk DingtalkConfig `yaml:"dingtalk"`
}

type DingtalkConfig struct {
	Webhook   string `yaml:"webhook"`
	Secret    string `yaml:"secret"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type DeliveryConfig struct {
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	DedupWindowSec int             `yaml:"dedup_window_sec"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

type StoreConfig struct {
	Backend string       `yaml:"backend"`
	Sqlite  SqliteConfig `yaml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
}

type SqliteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MarketConfig struct {
	BaseURLs             []string          `yaml:"base_urls"`
	Timezone             string            `yaml:"timezone"`
	LookbackDays         int               `yaml:"lookback_days"`
	RequestTimeoutMs     int               `yaml:"request_timeout_ms"`
	MaxConcurrency       int               `yaml:"max_concurrency"`
	MinRequestIntervalMs int               `yaml:"min_request_interval_ms"`
	Names                map[string]string `yaml:"names"`
}

type WatchlistConfig struct {
	Scope string   `yaml:"scope"`
	Seed  []string `yaml:"seed"`
}

type BroadcastConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Triggers       []string `yaml:"triggers"`
	Subscribers    []string `yaml:"subscribers"`
	TickSec        int      `yaml:"tick_sec"`
	GraceSec       int      `yaml:"grace_sec"`
	SendTimeoutSec int      `yaml:"send_timeout_sec"`
}

type CommentaryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

const (
	BackendSqlite = "sqlite"
	BackendRedis  = "redis"
)

// Default returns the built-in configuration that file values are layered on.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
		Line: LineConfig{
			BaseURL:   "https://api.line.me",
			TimeoutMs: 5000,
		},
		Push: PushConfig{
			Dingtalk: DingtalkConfig{TimeoutMs: 5000},
		},
		Delivery: DeliveryConfig{
			RateLimit:      RateLimitConfig{PerMinute: 60, Burst: 10},
			DedupWindowSec: 60,
		},
		Store: StoreConfig{
			Backend: BackendSqlite,
			Sqlite:  SqliteConfig{Path: "data/app.db"},
			Redis:   RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "watchlist:"},
		},
		Market: MarketConfig{
			BaseURLs:             []string{"https://api.finmindtrade.com/api/v4"},
			Timezone:             "Asia/Taipei",
			LookbackDays:         5,
			RequestTimeoutMs:     10000,
			MaxConcurrency:       4,
			MinRequestIntervalMs: 200,
		},
		Watchlist: WatchlistConfig{Scope: "user"},
		Broadcast: BroadcastConfig{
			Enabled:        false,
			Triggers:       []string{"09:05", "13:35"},
			TickSec:        20,
			GraceSec:       60,
			SendTimeoutSec: 120,
		},
		Commentary: CommentaryConfig{
			Enabled:   false,
			Model:     "gpt-4.1-mini",
			TimeoutMs: 10000,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies .env and
// environment overrides. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"); v != "" {
		cfg.Line.ChannelAccessToken = v
	}
	if v := os.Getenv("LINE_CHANNEL_SECRET"); v != "" {
		cfg.Line.ChannelSecret = v
	}
	if v := os.Getenv("LINE_USER_IDS"); v != "" {
		cfg.Broadcast.Subscribers = SplitList(v)
	}
	if v := os.Getenv("DINGTALK_WEBHOOK"); v != "" {
		cfg.Push.Dingtalk.Webhook = v
	}
	if v := os.Getenv("DINGTALK_SECRET"); v != "" {
		cfg.Push.Dingtalk.Secret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Store.Sqlite.Path = v
	}
	return nil
}

// Validate checks the values the rest of the program assumes are sane.
func (c *Config) Validate() error {
	if c.Market.LookbackDays < 3 || c.Market.LookbackDays > 5 {
		return fmt.Errorf("market.lookback_days must be between 3 and 5, got %d", c.Market.LookbackDays)
	}
	if len(c.Market.BaseURLs) == 0 {
		return fmt.Errorf("market.base_urls is empty")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	switch c.Store.Backend {
	case BackendSqlite, BackendRedis:
	default:
		return fmt.Errorf("unknown store.backend: %q", c.Store.Backend)
	}
	switch c.Watchlist.Scope {
	case "user", "global":
	default:
		return fmt.Errorf("unknown watchlist.scope: %q", c.Watchlist.Scope)
	}
	for _, t := range c.Watchlist.Seed {
		if !quote.ValidTicker(quote.Normalize(t)) {
			return fmt.Errorf("watchlist.seed: invalid ticker %q", t)
		}
	}
	for _, t := range c.Broadcast.Triggers {
		if _, _, err := ParseClock(t); err != nil {
			return fmt.Errorf("broadcast.triggers: %w", err)
		}
	}
	return nil
}

// Location returns the market timezone. Validate has already vetted the name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func Seconds(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
