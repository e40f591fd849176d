package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"AUTOSAVE_ENABLED", "AUTOSAVE_DELAY", "AUTOSAVE_RETRY_ATTEMPTS", "KAFKA_BROKERS", "REMOTE_MODE", "DLQ_MAX_RETRIES"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	require.True(t, cfg.AutoSaveEnabled)
	require.Equal(t, time.Second, cfg.AutoSaveDelay)
	require.Equal(t, 5, cfg.RetryAttempts)
	require.Equal(t, 15*time.Second, cfg.SaveTimeout)
	require.Equal(t, "sp", cfg.CodePrefix)
	require.Equal(t, 3, cfg.MonitorMaxRetries)
	require.Equal(t, RemoteModeHTTP, cfg.RemoteMode)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, 5, cfg.DLQMaxRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTOSAVE_ENABLED", "false")
	t.Setenv("AUTOSAVE_DELAY", "250ms")
	t.Setenv("AUTOSAVE_RETRY_ATTEMPTS", "2")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("REMOTE_MODE", "Postgres")
	t.Setenv("MONITOR_INTERVAL", "not-a-duration")

	cfg := Load()
	require.False(t, cfg.AutoSaveEnabled)
	require.Equal(t, 250*time.Millisecond, cfg.AutoSaveDelay)
	require.Equal(t, 2, cfg.RetryAttempts)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, RemoteModePostgres, cfg.RemoteMode)
	require.Equal(t, 5*time.Second, cfg.MonitorInterval)
}

func TestGetBoolEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("FLAG", "maybe")
	require.True(t, getBoolEnv("FLAG", true))
	t.Setenv("FLAG", "0")
	require.False(t, getBoolEnv("FLAG", true))
}
