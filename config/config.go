package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the watcher needs at startup. Values come from an
// optional YAML file (WATCHER_CONFIG) overridden by environment variables;
// there are no other sources and no globals.
type Config struct {
	AppID            string `yaml:"app_id"`
	DatabasePath     string `yaml:"database_path"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	OperatorChatID   string `yaml:"operator_chat_id"`

	FetchTimeoutSec int    `yaml:"fetch_timeout_secs"`
	FetchRetries    int    `yaml:"fetch_retries"`
	FetchProfile    string `yaml:"fetch_profile"`

	ItemDelayMinSec  int `yaml:"item_delay_min_secs"`
	ItemDelayMaxSec  int `yaml:"item_delay_max_secs"`
	CycleDelayMinSec int `yaml:"cycle_delay_min_secs"`
	CycleDelayMaxSec int `yaml:"cycle_delay_max_secs"`

	EnrichEndpoint string `yaml:"enrich_endpoint"`
	EnrichAPIKey   string `yaml:"enrich_api_key"`

	Debug bool `yaml:"debug"`

	// Derived, populated by Load.
	FetchTimeout  time.Duration `yaml:"-"`
	ItemDelayMin  time.Duration `yaml:"-"`
	ItemDelayMax  time.Duration `yaml:"-"`
	CycleDelayMin time.Duration `yaml:"-"`
	CycleDelayMax time.Duration `yaml:"-"`
}

// Defaults returns a Config with every tunable at its default. Pacing bounds
// match the worker this replaces: 10-20s between items, 300-600s between
// sweeps.
func Defaults() Config {
	return Config{
		AppID:            "pb-watcher-app",
		DatabasePath:     "./watcher.db",
		FetchTimeoutSec:  15,
		FetchRetries:     1,
		FetchProfile:     "chrome",
		ItemDelayMinSec:  10,
		ItemDelayMaxSec:  20,
		CycleDelayMinSec: 300,
		CycleDelayMaxSec: 600,
	}
}

// Load assembles the configuration: defaults, then the YAML file named by
// WATCHER_CONFIG if set, then environment variables. A validation failure is
// a startup failure.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("WATCHER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.FetchTimeout = time.Duration(cfg.FetchTimeoutSec) * time.Second
	cfg.ItemDelayMin = time.Duration(cfg.ItemDelayMinSec) * time.Second
	cfg.ItemDelayMax = time.Duration(cfg.ItemDelayMaxSec) * time.Second
	cfg.CycleDelayMin = time.Duration(cfg.CycleDelayMinSec) * time.Second
	cfg.CycleDelayMax = time.Duration(cfg.CycleDelayMaxSec) * time.Second
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}

	setString(&cfg.AppID, "APP_ID")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.OperatorChatID, "OPERATOR_CHAT_ID")
	setString(&cfg.FetchProfile, "FETCH_PROFILE")
	setString(&cfg.EnrichEndpoint, "ENRICH_ENDPOINT")
	setString(&cfg.EnrichAPIKey, "ENRICH_API_KEY")
	setInt(&cfg.FetchTimeoutSec, "FETCH_TIMEOUT_SECS")
	setInt(&cfg.FetchRetries, "FETCH_RETRIES")
	setInt(&cfg.ItemDelayMinSec, "ITEM_DELAY_MIN_SECS")
	setInt(&cfg.ItemDelayMaxSec, "ITEM_DELAY_MAX_SECS")
	setInt(&cfg.CycleDelayMinSec, "CYCLE_DELAY_MIN_SECS")
	setInt(&cfg.CycleDelayMaxSec, "CYCLE_DELAY_MAX_SECS")
	if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.FetchTimeoutSec <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %d", c.FetchTimeoutSec)
	}
	if c.ItemDelayMinSec < 0 || c.ItemDelayMaxSec < c.ItemDelayMinSec {
		return fmt.Errorf("invalid item delay range %d-%d", c.ItemDelayMinSec, c.ItemDelayMaxSec)
	}
	if c.CycleDelayMinSec <= 0 || c.CycleDelayMaxSec < c.CycleDelayMinSec {
		return fmt.Errorf("invalid cycle delay range %d-%d", c.CycleDelayMinSec, c.CycleDelayMaxSec)
	}
	return nil
}
