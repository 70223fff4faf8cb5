package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr  string
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	Matching  MatchingConfig
	Geofence  GeofenceConfig
	Sightings SightingsConfig
}

// StoreConfig selects the realtime store backend: "redis" or "memory".
type StoreConfig struct {
	Backend string
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	SSLMode  string
	Host     string
	Port     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig configures the broker-sourced driver location feed. An empty
// Broker disables it.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

type MatchingConfig struct {
	RadiusMeters float64
}

type GeofenceConfig struct {
	RadiusMeters float64
}

// SightingsConfig controls stale-sighting eviction. MaxAge 0 disables the
// janitor entirely.
type SightingsConfig struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// Load reads config.yaml from path, overlaying defaults for anything the
// file omits.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetDefault("httpaddr", ":8080")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.port", "5432")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("mqtt.clientid", "trip-coordinator")
	v.SetDefault("mqtt.topic", "drivers/+/location")
	v.SetDefault("matching.radiusmeters", 50.0)
	v.SetDefault("geofence.radiusmeters", 25.0)
	v.SetDefault("sightings.maxage", 90*time.Second)
	v.SetDefault("sightings.sweepinterval", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
