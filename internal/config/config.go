// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DBURL           string        `mapstructure:"DB_URL"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	NATSURL         string        `mapstructure:"NATS_URL"`
	GithubTokens    []string      `mapstructure:"GITHUB_TOKENS"`
	GitlabToken     string        `mapstructure:"GITLAB_TOKEN"`
	GiteaToken      string        `mapstructure:"GITEA_TOKEN"`
	SyncInterval    time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncBatchLimit  int           `mapstructure:"SYNC_BATCH_LIMIT"`
	ArchiveBaseURL  string        `mapstructure:"ARCHIVE_BASE_URL"`
	ReposAPIURL     string        `mapstructure:"REPOS_API_URL"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LookupTimeout   time.Duration `mapstructure:"LOOKUP_TIMEOUT"`
	UpsertChunkSize int           `mapstructure:"UPSERT_CHUNK_SIZE"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("NATS_URL", "nats://localhost:4222")
	viper.SetDefault("SYNC_INTERVAL", "1h")
	viper.SetDefault("SYNC_BATCH_LIMIT", 1000)
	viper.SetDefault("ARCHIVE_BASE_URL", "https://data.gharchive.org")
	viper.SetDefault("REPOS_API_URL", "https://repos.ecosyste.ms")
	viper.SetDefault("REQUEST_TIMEOUT", "30s")
	viper.SetDefault("LOOKUP_TIMEOUT", "5s")
	viper.SetDefault("UPSERT_CHUNK_SIZE", 1000)

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
	if cfg.SyncBatchLimit <= 0 {
		return nil, errors.New("SYNC_BATCH_LIMIT must be positive")
	}
	if cfg.UpsertChunkSize <= 0 {
		return nil, errors.New("UPSERT_CHUNK_SIZE must be positive")
	}

	return &cfg, nil
}
