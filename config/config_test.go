package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "disable", cfg.DB.SSLMode)
	assert.Equal(t, "5432", cfg.DB.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "drivers/+/location", cfg.MQTT.Topic)
	assert.Equal(t, "", cfg.MQTT.Broker, "mqtt feed is off unless a broker is configured")
	assert.Equal(t, 50.0, cfg.Matching.RadiusMeters)
	assert.Equal(t, 25.0, cfg.Geofence.RadiusMeters)
	assert.Equal(t, 90*time.Second, cfg.Sightings.MaxAge)
	assert.Equal(t, 30*time.Second, cfg.Sightings.SweepInterval)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`httpaddr: ":9090"
store:
  backend: redis
redis:
  addr: redis.internal:6379
  db: 2
mqtt:
  broker: tcp://broker.internal:1883
matching:
  radiusmeters: 250
sightings:
  maxage: 2m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), body, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "tcp://broker.internal:1883", cfg.MQTT.Broker)
	assert.Equal(t, 250.0, cfg.Matching.RadiusMeters)
	assert.Equal(t, 2*time.Minute, cfg.Sightings.MaxAge)

	// Untouched keys keep their defaults.
	assert.Equal(t, "trip-coordinator", cfg.MQTT.ClientID)
	assert.Equal(t, 25.0, cfg.Geofence.RadiusMeters)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("httpaddr: [unclosed"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
