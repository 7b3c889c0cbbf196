// Package config loads the investloader YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the investloader service.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	TInvest  TInvest  `yaml:"tinvest"`
	Logging  Logging  `yaml:"logging"`
	Sync     Sync     `yaml:"sync"`
	Schedule Schedule `yaml:"schedule"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TInvest holds credentials and endpoint for the T-Invest market-data API.
type TInvest struct {
	Token    string `yaml:"token"`
	AppName  string `yaml:"app_name"`
	Endpoint string `yaml:"endpoint"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Sync holds parameters for the fetch/reconcile pipeline.
type Sync struct {
	APIWorkers         int           `yaml:"api_workers"`
	BatchWorkers       int           `yaml:"batch_workers"`
	ProcessingWorkers  int           `yaml:"processing_workers"`
	BatchSize          int           `yaml:"batch_size"`
	RateLimitPerMin    int           `yaml:"rate_limit_per_min"`
	RateBurst          int           `yaml:"rate_burst"`
	UnitTimeout        time.Duration `yaml:"unit_timeout"`
	InstrumentCacheTTL time.Duration `yaml:"instrument_cache_ttl"`
}

// Schedule configures the nightly session-price jobs. Times are local to
// Timezone in HH:MM form.
type Schedule struct {
	Timezone    string `yaml:"timezone"`
	EveningAt   string `yaml:"evening_at"`
	MorningAt   string `yaml:"morning_at"`
	ClosePrices string `yaml:"close_prices_at"`
	Enabled     bool   `yaml:"enabled"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "./data",
			SQLitePath: "./data/investloader.db",
		},
		Server: Server{Host: "0.0.0.0", Port: 8083},
		Logging: Logging{Level: "info"},
		Sync: Sync{
			APIWorkers:         10,
			BatchWorkers:       2,
			ProcessingWorkers:  4,
			BatchSize:          100,
			RateLimitPerMin:    300,
			RateBurst:          10,
			UnitTimeout:        30 * time.Second,
			InstrumentCacheTTL: 30 * time.Minute,
		},
		Schedule: Schedule{
			Timezone:  "Europe/Moscow",
			EveningAt: "02:00",
			MorningAt: "07:00",
			Enabled:   true,
		},
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("T_INVEST_API_TOKEN"); v != "" {
		cfg.TInvest.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

func (c *Config) validate() error {
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Sync.APIWorkers <= 0 || c.Sync.BatchWorkers <= 0 || c.Sync.ProcessingWorkers <= 0 {
		return fmt.Errorf("sync worker pool sizes must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// Location returns the schedule timezone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.Schedule.Timezone)
	return loc
}
