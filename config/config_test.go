package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9192", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.True(t, strings.HasSuffix(cfg.StorePath, filepath.Join(".hrconsole", "session.json")))
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "hrconsole:session", cfg.RedisKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.MetricsEnabled)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, "google", cfg.OAuth2Provider)
	assert.False(t, cfg.Production())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HRCONSOLE_BASE_URL", "https://hr.corp.io")
	t.Setenv("HRCONSOLE_TIMEOUT", "3s")
	t.Setenv("HRCONSOLE_STORE", "memory")
	t.Setenv("HRCONSOLE_METRICS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://hr.corp.io", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrconsole.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://file.corp.io\nstore: redis\nredis_key: custom\n"), 0o600))
	t.Setenv("HRCONSOLE_REDIS_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.corp.io", cfg.BaseURL)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "from-env", cfg.RedisKey)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	t.Setenv("HRCONSOLE_BASE_URL", "https://env.corp.io")
	t.Setenv("HRCONSOLE_STORE", "memory")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("base-url", "", "")
	fs.String("store", "", "")
	fs.String("unrelated", "", "")
	require.NoError(t, fs.Parse([]string{"--base-url", "https://flag.corp.io"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "https://flag.corp.io", cfg.BaseURL)
	assert.Equal(t, StoreMemory, cfg.Store, "unchanged flag must not mask the environment")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{BaseURL: "http://localhost:9192", Timeout: time.Second, Store: StoreFile, StorePath: "/tmp/s.json"}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"relative url", func(c *Config) { c.BaseURL = "localhost:9192" }, "BASE_URL"},
		{"ftp url", func(c *Config) { c.BaseURL = "ftp://hr" }, "BASE_URL"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "TIMEOUT"},
		{"unknown store", func(c *Config) { c.Store = "sqlite" }, "unknown STORE"},
		{"file without path", func(c *Config) { c.StorePath = "" }, "STORE_PATH"},
		{"redis without addr", func(c *Config) { c.Store = StoreRedis }, "REDIS_ADDR"},
		{"memory", func(c *Config) { c.Store = StoreMemory; c.StorePath = "" }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
