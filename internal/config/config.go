package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds everything the process needs, loaded once at startup and
// passed down by constructor. Presence of MongoURI is the single switch
// between the remote backend and the local file store; the choice is made
// once at composition time and never re-evaluated.
type Config struct {
	MongoURI       string
	MongoDB        string
	MQTTBroker     string
	JWTSecret      string
	JWTExpiry      time.Duration
	LocalStorePath string
	Port           string
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("could not load .env")
	}

	cfg := &Config{
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        envOr("MONGO_DB", "taxifleet"),
		MQTTBroker:     envOr("MQTT_BROKER", "tcp://localhost:1883"),
		JWTSecret:      envOr("JWT_SECRET", "default-secret-key-change-in-production"),
		JWTExpiry:      24 * time.Hour,
		LocalStorePath: envOr("LOCAL_STORE_PATH", "data/fleet.json"),
		Port:           envOr("PORT", "8080"),
	}

	if expStr := os.Getenv("JWT_EXPIRY"); expStr != "" {
		if parsed, err := time.ParseDuration(expStr); err == nil {
			cfg.JWTExpiry = parsed
		}
	}

	return cfg
}

// RemoteEnabled reports whether the remote backend is configured.
func (c *Config) RemoteEnabled() bool {
	return c.MongoURI != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
