// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. GitHub tokens are not
// configured here; they live on user records and are supplied by the auth
// collaborator.
type Config struct {
	LogLevel                string        `mapstructure:"LOG_LEVEL"`
	HTTPAddr                string        `mapstructure:"HTTP_ADDR"`
	DBURL                   string        `mapstructure:"DB_URL"`
	GeminiAPIKey            string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel             string        `mapstructure:"GEMINI_MODEL"`
	GeminiRate              float64       `mapstructure:"GEMINI_RATE"`
	GeminiBurst             int           `mapstructure:"GEMINI_BURST"`
	SyncInterval            time.Duration `mapstructure:"SYNC_INTERVAL"`
	AnalysisInterval        time.Duration `mapstructure:"ANALYSIS_INTERVAL"`
	AnalysisBatchLimit      int           `mapstructure:"ANALYSIS_BATCH_LIMIT"`
	CommitDetailConcurrency int           `mapstructure:"COMMIT_DETAIL_CONCURRENCY"`
	HTTPTimeout             time.Duration `mapstructure:"HTTP_TIMEOUT"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	viper.SetDefault("GEMINI_RATE", 15.0/60.0)
	viper.SetDefault("GEMINI_BURST", 15)
	viper.SetDefault("SYNC_INTERVAL", "6h")
	viper.SetDefault("ANALYSIS_INTERVAL", "24h")
	viper.SetDefault("ANALYSIS_BATCH_LIMIT", 50)
	viper.SetDefault("COMMIT_DETAIL_CONCURRENCY", 5)
	viper.SetDefault("HTTP_TIMEOUT", "30s")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is a required configuration field")
	}
	if cfg.SyncInterval <= 0 {
		return nil, errors.New("SYNC_INTERVAL must be a positive duration")
	}
	if cfg.AnalysisInterval <= 0 {
		return nil, errors.New("ANALYSIS_INTERVAL must be a positive duration")
	}
	if cfg.AnalysisBatchLimit <= 0 {
		return nil, errors.New("ANALYSIS_BATCH_LIMIT must be positive")
	}
	if cfg.CommitDetailConcurrency <= 0 {
		return nil, errors.New("COMMIT_DETAIL_CONCURRENCY must be positive")
	}

	return &cfg, nil
}
