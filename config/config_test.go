package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := New()
	// 避免读到工作目录里的配置文件
	v.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "my-topic", cfg.Kafka.Topic)
	assert.False(t, cfg.Kafka.Verify)
	assert.Equal(t, 10, cfg.Emit.Count)
	assert.Equal(t, time.Second, cfg.Emit.Interval)
	assert.Equal(t, "http://localhost:8080/nifi-api", cfg.NiFi.URL)
	assert.Equal(t, "My Process Group", cfg.Flow.ProcessGroup)
	assert.Equal(t, "My Input Port", cfg.Flow.InputPort)
	assert.Equal(t, "My Output Port", cfg.Flow.OutputPort)
	assert.Equal(t, "Kafka Producer", cfg.Flow.Processor)
	assert.Empty(t, cfg.Report.Redis.Addr)
	assert.Equal(t, "streamflow:runs", cfg.Report.Redis.Channel)
	assert.Equal(t, "runs", cfg.Report.Mongo.Collection)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STREAMFLOW_KAFKA_TOPIC", "orders")
	t.Setenv("STREAMFLOW_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("STREAMFLOW_EMIT_COUNT", "3")
	t.Setenv("STREAMFLOW_EMIT_INTERVAL", "250ms")

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("streamflow")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Kafka.Topic)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Emit.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Emit.Interval)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamflow.yaml")
	content := []byte(`
kafka:
  topic: from-file
flow:
  process_group: Ingest
nifi:
  url: https://nifi.local:8443/nifi-api
  insecure_skip_verify: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := newTestViper(t)
	v.SetConfigFile(path)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Kafka.Topic)
	assert.Equal(t, "Ingest", cfg.Flow.ProcessGroup)
	assert.Equal(t, "My Input Port", cfg.Flow.InputPort)
	assert.True(t, cfg.NiFi.InsecureSkipVerify)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	v := newTestViper(t)

	_, err := Load(v)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := Load(v)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty topic", func(c *Config) { c.Kafka.Topic = "" }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"negative count", func(c *Config) { c.Emit.Count = -1 }},
		{"relative nifi url", func(c *Config) { c.NiFi.URL = "nifi-api" }},
		{"username without password", func(c *Config) { c.NiFi.Username = "admin" }},
		{"empty input port", func(c *Config) { c.Flow.InputPort = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
