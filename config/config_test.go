package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "conduit.yaml", `
grpc_addr: ":6000"
log_level: debug
kafka:
  brokers: [a:9092, b:9092]
  driver: kafka-go
  out_topic: hub.out
  retry_interval: 250ms
`)
	t.Setenv("CONDUIT_LOG_LEVEL", "warn")
	t.Setenv("CONDUIT_KAFKA_IN_TOPIC", "hub.in")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.GRPCAddr)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DriverKafkaGo, cfg.Kafka.Driver)
	assert.Equal(t, "hub.out", cfg.Kafka.OutTopic)
	assert.Equal(t, "hub.in", cfg.Kafka.InTopic)
	assert.Equal(t, 250*time.Millisecond, cfg.Kafka.RetryInterval)
	assert.Equal(t, "conduit", cfg.Kafka.GroupID)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "CONDUIT_KAFKA_BROKERS=x:1,y:2\nCONDUIT_DEVELOPMENT=true\n")
	// godotenv sets these for the process; register them for cleanup
	t.Setenv("CONDUIT_KAFKA_BROKERS", "")
	t.Setenv("CONDUIT_DEVELOPMENT", "")
	require.NoError(t, os.Unsetenv("CONDUIT_KAFKA_BROKERS"))
	require.NoError(t, os.Unsetenv("CONDUIT_DEVELOPMENT"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"x:1", "y:2"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Development)
}

func TestUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONDUIT_KAFKA_DRIVER", "franz")

	_, err := Load("")
	assert.ErrorContains(t, err, "unknown kafka driver")
}

func TestMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
