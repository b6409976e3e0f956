// Package config loads application configuration from file and environment
// and owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/placeforge/ingest-cli/internal/pipeline"
	"github.com/placeforge/ingest-cli/internal/scheduler"
	"github.com/placeforge/ingest-cli/internal/store"
	"github.com/placeforge/ingest-cli/pkg/enhance"
	"github.com/placeforge/ingest-cli/pkg/extract"
)

// Config holds the full application configuration.
type Config struct {
	Store      store.Config     `yaml:"store" mapstructure:"store"`
	Scheduler  scheduler.Config `yaml:"scheduler" mapstructure:"scheduler"`
	Pipeline   pipeline.Config  `yaml:"pipeline" mapstructure:"pipeline"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	Extract    extract.Config   `yaml:"extract" mapstructure:"extract"`
	Enhance    enhance.Config   `yaml:"enhance" mapstructure:"enhance"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SimilarityConfig tunes the duplicate detection engine.
type SimilarityConfig struct {
	Threshold     float64 `yaml:"threshold" mapstructure:"threshold"`
	CountryPrefix string  `yaml:"country_prefix" mapstructure:"country_prefix"`
}

// ServerConfig configures the HTTP API.
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
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ingest.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.concurrency", 5)
	v.SetDefault("scheduler.rate_limit", 2)
	v.SetDefault("scheduler.rate_window", "1s")
	v.SetDefault("scheduler.sweep_interval", "60s")
	v.SetDefault("scheduler.stale_timeout", "10m")
	v.SetDefault("pipeline.max_candidates", 50)
	v.SetDefault("pipeline.geo_radius_km", 0.05)
	v.SetDefault("pipeline.concurrency", 5)
	v.SetDefault("similarity.threshold", 0.8)
	v.SetDefault("similarity.country_prefix", "+27")
	v.SetDefault("extract.model", "claude-haiku-4-5-20251001")
	v.SetDefault("extract.max_tokens", 2048)
	v.SetDefault("enhance.model", "claude-haiku-4-5-20251001")
	v.SetDefault("enhance.max_tokens", 1024)

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
