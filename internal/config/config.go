// Package config loads process configuration from the environment, an
// optional .env file, and the parameter store.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stratsync-chat/internal/integrations/paramstore"
	"stratsync-chat/internal/integrations/queryapi"
)

type Config struct {
	QueryAPIBaseURL string
	QueryAPITimeout time.Duration
	MaxQueryLength  int
	StateTable      string
	SessionTTL      time.Duration
	// ParamPrefix enables the parameter store overlay and the API token.
	ParamPrefix string
	ExportDir   string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{
		QueryAPIBaseURL: strings.TrimRight(getEnv("QUERY_API_BASE_URL", queryapi.DefaultBaseURL), "/"),
		QueryAPITimeout: envDuration("QUERY_API_TIMEOUT", 60*time.Second),
		MaxQueryLength:  envInt("MAX_QUERY_LENGTH", 2000),
		StateTable:      getEnv("STATE_TABLE", ""),
		SessionTTL:      envDuration("SESSION_TTL", 24*time.Hour),
		ParamPrefix:     strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		ExportDir:       getEnv("EXPORT_DIR", "."),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
	if cfg.QueryAPIBaseURL == "" {
		return nil, errors.New("config: QUERY_API_BASE_URL must not be empty")
	}
	return cfg, nil
}

// ApplyParams overlays values stored under ParamPrefix. Parameters that do
// not exist leave the current value in place.
func (c *Config) ApplyParams(ctx context.Context, g paramstore.Getter) error {
	if c.ParamPrefix == "" || g == nil {
		return nil
	}
	baseURL, ok, err := paramstore.Lookup(ctx, g, c.ParamPrefix+"/query_api_base_url")
	if err != nil {
		return fmt.Errorf("config: ApplyParams: %w", err)
	}
	if ok && baseURL != "" {
		c.QueryAPIBaseURL = strings.TrimRight(baseURL, "/")
	}
	return nil
}

// TokenParameter is the parameter holding the query API token, or "" when
// no prefix is configured.
func (c *Config) TokenParameter() string {
	if c.ParamPrefix == "" {
		return ""
	}
	return c.ParamPrefix + "/api-token"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
