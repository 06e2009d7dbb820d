package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Sources  SourcesConfig  `yaml:"sources"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
	Trace    TraceConfig    `yaml:"trace"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type LedgerConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	// Timezone is the exchange timezone ledgers are keyed by. Never
	// client-local time: fills near midnight must land on the exchange's
	// calendar day.
	Timezone string `yaml:"timezone"`
}

type SourcesConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Zerodha SourceConfig  `yaml:"zerodha"`
	Fyers   SourceConfig  `yaml:"fyers"`
	Dhan    SourceConfig  `yaml:"dhan"`
}

type SourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TraceConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Ledger.SQLitePath == "" {
		cfg.Ledger.SQLitePath = "data/tradeledger.db"
	}
	if cfg.Ledger.Timezone == "" {
		cfg.Ledger.Timezone = "Asia/Kolkata"
	}
	if cfg.Sources.Timeout == 0 {
		cfg.Sources.Timeout = 10 * time.Second
	}
	if cfg.Sources.Fyers.BaseURL == "" {
		cfg.Sources.Fyers.BaseURL = "https://api-t1.fyers.in/api/v3"
	}
	if cfg.Sources.Dhan.BaseURL == "" {
		cfg.Sources.Dhan.BaseURL = "https://api.dhan.co/v2"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9106"
	}
	if cfg.Archive.Schema == "" {
		cfg.Archive.Schema = "public"
	}
}

func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Ledger.Timezone); err != nil {
		return fmt.Errorf("ledger.timezone %q is invalid: %w", cfg.Ledger.Timezone, err)
	}
	if cfg.Archive.Enabled && cfg.Archive.DSN == "" {
		return errors.New("archive.dsn is required when archive is enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}

// Location resolves the configured exchange timezone. Validate already
// checked it, so failures here only happen on an unvalidated Config.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Ledger.Timezone)
}
