package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
environment: test
clickhouse:
  host: localhost
  port: 9000
  database: kronos
kronos:
  service_url: http://localhost:9100
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "clickhouse", cfg.Feed.Source)
	assert.Equal(t, 15*time.Minute, cfg.Feed.Cache.TTL)
	assert.Equal(t, "kronos.predictions.events", cfg.Kafka.Topics.Events)
	assert.Len(t, cfg.Kronos.Models, 3)
	assert.True(t, cfg.HasModel("kronos-small"))
	assert.False(t, cfg.HasModel("kronos-huge"))
}

func TestValidateRejectsBadBackends(t *testing.T) {
	cases := map[string]string{
		"storage": minimalYAML + "storage:\n  backend: sqlite\n",
		"pg dsn":  minimalYAML + "storage:\n  backend: postgres\n",
		"feed":    minimalYAML + "feed:\n  source: ftp\n",
		"model":   minimalYAML + "  default_model: kronos-huge\n",
		"cache":   minimalYAML + "feed:\n  cache:\n    enabled: true\n",
		"kafka":   minimalYAML + "kafka:\n  enabled: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	t.Setenv("DATABASE_URL", "postgres://kronos@localhost/kronos")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("KRONOS_URL", "http://inference:9100")

	cfg, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://kronos@localhost/kronos", cfg.Storage.PostgresDSN)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "http://inference:9100", cfg.Kronos.ServiceURL)
}
