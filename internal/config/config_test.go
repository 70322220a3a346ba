package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, StaleStoreMemory, cfg.StaleStore)
	assert.Equal(t, 30*time.Second, cfg.AGSTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30, cfg.HorizonDays)
	assert.Equal(t, 168*time.Hour, cfg.OutcomeTTL)
	assert.Equal(t, "11:00", cfg.DefaultHours.Open)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.False(t, cfg.AutoRegenerate)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("STALE_STORE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AGS_TIMEOUT_SECONDS", "5")
	t.Setenv("AUTO_REGENERATE", "true")
	t.Setenv("TIMEZONE", "Europe/Paris")
	t.Setenv("REGEN_HORIZON_DAYS", "60")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, StaleStoreRedis, cfg.StaleStore)
	assert.Equal(t, 5*time.Second, cfg.AGSTimeout)
	assert.True(t, cfg.AutoRegenerate)
	assert.Equal(t, "Europe/Paris", cfg.Location.String())
	assert.Equal(t, 60, cfg.HorizonDays)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":     {"STALE_STORE": "etcd"},
		"redis without url": {"STALE_STORE": "redis"},
		"zero timeout":      {"AGS_TIMEOUT_SECONDS": "0"},
		"zero sweep":        {"SWEEP_INTERVAL_SECONDS": "0"},
		"zero horizon":      {"REGEN_HORIZON_DAYS": "0"},
		"bad default open":  {"DEFAULT_OPEN_TIME": "noon"},
		"bad timezone":      {"TIMEZONE": "Mars/Olympus"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromViper_ExplicitValuesWin(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyStaleStore, "sqlite")
	v.Set(KeySQLitePath, "/tmp/stale.db")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, StaleStoreSQLite, cfg.StaleStore)
	assert.Equal(t, "/tmp/stale.db", cfg.SQLitePath)
}
