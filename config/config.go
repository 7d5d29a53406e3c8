// Package config loads and validates console configuration from an optional
// config file and HRCONSOLE_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HRCONSOLE"

// Session store kinds.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds console configuration.
type Config struct {
	// BaseURL is the HR API address (e.g. http://localhost:9192).
	BaseURL string `mapstructure:"BASE_URL"`
	// Timeout bounds every API call.
	Timeout time.Duration `mapstructure:"TIMEOUT"`
	// Store selects the session store: file, redis or memory.
	Store string `mapstructure:"STORE"`
	// StorePath is the session file used by the file store.
	StorePath string `mapstructure:"STORE_PATH"`
	// RedisAddr is the Redis address used by the redis store.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisKey is the hash key holding the session.
	RedisKey string `mapstructure:"REDIS_KEY"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// MetricsEnabled turns on Prometheus collectors.
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	// MetricsFile receives the collectors in text format when metrics are enabled.
	MetricsFile string `mapstructure:"METRICS_FILE"`
	// TracingEnabled turns on client spans through the global tracer provider.
	TracingEnabled bool `mapstructure:"TRACING_ENABLED"`
	// OTLPEndpoint receives spans when tracing is enabled; empty keeps them in-process.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OAuth2Provider is the provider used by "oauth2 url".
	OAuth2Provider string `mapstructure:"OAUTH2_PROVIDER"`
}

// Load builds and validates Config. path names an optional config file
// (YAML, JSON or .env); an empty path reads the environment only.
// Precedence is changed flags, then environment, then file, then defaults.
// A flag binds to the key of the same name, so --base-url sets BASE_URL.
func Load(path string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == ".env" {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			key := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if _, known := defaults()[key]; known && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("config: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	dir := stateDir()
	return map[string]any{
		"BASE_URL":        "http://localhost:9192",
		"TIMEOUT":         "15s",
		"STORE":           StoreFile,
		"STORE_PATH":      filepath.Join(dir, "session.json"),
		"REDIS_ADDR":      "localhost:6379",
		"REDIS_KEY":       "hrconsole:session",
		"LOG_LEVEL":       "info",
		"APP_ENV":         "development",
		"METRICS_ENABLED": false,
		"METRICS_FILE":    filepath.Join(dir, "metrics.prom"),
		"TRACING_ENABLED": false,
		"OTLP_ENDPOINT":   "",
		"OAUTH2_PROVIDER": "google",
	}
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".hrconsole")
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: BASE_URL %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errors.New("config: TIMEOUT must be positive")
	}
	switch c.Store {
	case StoreFile:
		if c.StorePath == "" {
			return errors.New("config: STORE_PATH must be set for the file store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown STORE %q (want file, redis or memory)", c.Store)
	}
	return nil
}

// Production reports whether the console runs in production.
func (c *Config) Production() bool { return c.Env == "production" }
