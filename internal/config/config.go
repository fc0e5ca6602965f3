// Package config loads application configuration and installs the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	OBIS   OBISConfig   `yaml:"obis" mapstructure:"obis"`
	GBIF   GBIFConfig   `yaml:"gbif" mapstructure:"gbif"`
	WoRMS  WoRMSConfig  `yaml:"worms" mapstructure:"worms"`
	Dedupe DedupeConfig `yaml:"dedupe" mapstructure:"dedupe"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the curated observation store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// OBISConfig configures the OBIS occurrence API.
type OBISConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize       int     `yaml:"page_size" mapstructure:"page_size"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// GBIFConfig configures the GBIF occurrence API.
type GBIFConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize       int     `yaml:"page_size" mapstructure:"page_size"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	CellWorkers    int     `yaml:"cell_workers" mapstructure:"cell_workers"`
	// FirstYear is where a full historical resync starts walking years.
	FirstYear int `yaml:"first_year" mapstructure:"first_year"`
}

// WoRMSConfig configures taxonomy enrichment.
type WoRMSConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// DedupeConfig configures the cross-provider deduplication pass.
type DedupeConfig struct {
	DistanceMeters  float64 `yaml:"distance_meters" mapstructure:"distance_meters"`
	TimeWindowHours float64 `yaml:"time_window_hours" mapstructure:"time_window_hours"`
	Prefer          string  `yaml:"prefer" mapstructure:"prefer"`
}

// SyncConfig configures sync run defaults.
type SyncConfig struct {
	IncrementalWindowDays int `yaml:"incremental_window_days" mapstructure:"incremental_window_days"`
	MaxPages              int `yaml:"max_pages" mapstructure:"max_pages"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPECIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "species.db")
	v.SetDefault("obis.base_url", "https://api.obis.org/v3")
	v.SetDefault("obis.page_size", 500)
	v.SetDefault("obis.requests_per_sec", 3)
	v.SetDefault("gbif.base_url", "https://api.gbif.org/v1")
	v.SetDefault("gbif.page_size", 300)
	v.SetDefault("gbif.requests_per_sec", 5)
	v.SetDefault("gbif.cell_workers", 3)
	v.SetDefault("gbif.first_year", 2000)
	v.SetDefault("worms.base_url", "https://www.marinespecies.org/rest")
	v.SetDefault("worms.requests_per_sec", 3)
	v.SetDefault("worms.concurrency", 4)
	v.SetDefault("dedupe.distance_meters", 1000)
	v.SetDefault("dedupe.time_window_hours", 24)
	v.SetDefault("dedupe.prefer", "OBIS")
	v.SetDefault("sync.incremental_window_days", 30)
	v.SetDefault("sync.max_pages", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
