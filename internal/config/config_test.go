package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATA_DIR", "STORE_BACKEND", "WAIT_TIMEOUT", "AMAZON_EMAIL", "AMAZON_PASSWORD", "SERVER_PORT", "LOG_FORMAT", "METRICS_TEXTFILE_DIR", "METRICS_PUSHGATEWAY_URL", "METRICS_JOB"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://www.amazon.com.br/", cfg.Amazon.BaseURL)
	assert.Equal(t, filepath.Join("data", "cookies.json"), cfg.Paths.CookiesFile)
	assert.Equal(t, filepath.Join("data", "bestseller_topics.txt"), cfg.Paths.TopicsFile)
	assert.Equal(t, 20*time.Second, cfg.Pacing.WaitTimeout)
	assert.Equal(t, 2*time.Second, cfg.Pacing.ProductDelayMin)
	assert.Equal(t, 5*time.Second, cfg.Pacing.ProductDelayMax)
	assert.Equal(t, "firebase", cfg.Store.Kind)
	assert.Equal(t, "/itens", cfg.Store.ItemsPath)
	assert.False(t, cfg.Store.AtomicAppend)
	assert.False(t, cfg.HasCredentials())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Empty(t, cfg.Metrics.Dir)
	assert.Empty(t, cfg.Metrics.PushURL)
	assert.Equal(t, "servant", cfg.Metrics.Job)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/servant")
	t.Setenv("AMAZON_EMAIL", "afiliado@example.com")
	t.Setenv("AMAZON_PASSWORD", "segredo")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("STORE_ATOMIC_APPEND", "true")
	t.Setenv("PRODUCT_DELAY_MIN", "1s")
	t.Setenv("PRODUCT_DELAY_MAX", "3s")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SCROLL_STEPS", "not-a-number")
	t.Setenv("METRICS_TEXTFILE_DIR", "/var/lib/node_exporter")
	t.Setenv("METRICS_PUSHGATEWAY_URL", "http://pushgateway:9091")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.HasCredentials())
	assert.Equal(t, "/var/lib/servant/cookies.json", cfg.Paths.CookiesFile)
	assert.Equal(t, "redis", cfg.Store.Kind)
	assert.True(t, cfg.Store.AtomicAppend)
	assert.Equal(t, time.Second, cfg.Pacing.ProductDelayMin)
	assert.Equal(t, 3, cfg.Pacing.ScrollSteps)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/var/lib/node_exporter", cfg.Metrics.Dir)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushURL)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SERVANT_TEST_TOPICS=/tmp/topics.txt\nTOPICS_FILE=${SERVANT_TEST_TOPICS}\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv("SERVANT_TEST_TOPICS")
		os.Unsetenv("TOPICS_FILE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/topics.txt", cfg.Paths.TopicsFile)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "typing range", mutate: func(c *Config) { c.Pacing.TypingMin = time.Second }, wantErr: "TYPING_DELAY_MIN"},
		{name: "product range", mutate: func(c *Config) { c.Pacing.ProductDelayMax = time.Second }, wantErr: "PRODUCT_DELAY_MIN"},
		{name: "wait timeout", mutate: func(c *Config) { c.Pacing.WaitTimeout = 0 }, wantErr: "WAIT_TIMEOUT"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Kind = "mongo" }, wantErr: "STORE_BACKEND"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Kind = "postgres" }, wantErr: "DATABASE_URL"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = "http" }, wantErr: "SERVER_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_BACKEND", "")
			t.Setenv("DATABASE_URL", "")
			t.Setenv("SERVER_PORT", "")
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
