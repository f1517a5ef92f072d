// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/jason-s-yu/whosesong/internal/models"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// Config holds the process settings read from the environment (and .env).
type Config struct {
	Port string

	RedisAddr string
	RedisDB   int

	// GameTTL is how long an untouched game stays in the store.
	GameTTL time.Duration

	// GameDefaults fills in whatever a createGame request leaves out.
	GameDefaults models.GameConfig

	BroadcastRetries int
	BroadcastBackoff time.Duration

	TokenExpireTime time.Duration
	SessionKeyPath  string
	SessionPubPath  string

	SpotifyID     string
	SpotifySecret string

	LogLevel logrus.Level
}

// Load reads the configuration. Unparseable values fall back to their defaults.
func Load() Config {
	ttl := getEnvDuration("GAME_TTL", 6*time.Hour)
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "debug"))
	if err != nil {
		level = logrus.DebugLevel
	}

	return Config{
		Port:      getEnv("PORT", "8080"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),
		GameTTL:   ttl,
		GameDefaults: models.GameConfig{
			TotalRounds:      getEnvInt("DEFAULT_TOTAL_ROUNDS", models.DefaultGameConfig.TotalRounds),
			RoundDurationSec: getEnvInt("ROUND_DURATION_SEC", models.DefaultGameConfig.RoundDurationSec),
			TimeRange:        getEnv("TRACK_TIME_RANGE", models.DefaultGameConfig.TimeRange),
			TrackLimit:       getEnvInt("TRACK_LIMIT", models.DefaultGameConfig.TrackLimit),
		},
		BroadcastRetries: getEnvInt("BROADCAST_RETRIES", 3),
		BroadcastBackoff: getEnvDuration("BROADCAST_BACKOFF", 200*time.Millisecond),
		TokenExpireTime:  getEnvDuration("TOKEN_EXPIRE_TIME", ttl),
		SessionKeyPath:   os.Getenv("SESSION_PRIVATE_KEY"),
		SessionPubPath:   os.Getenv("SESSION_PUBLIC_KEY"),
		SpotifyID:        os.Getenv("SPOTIFY_ID"),
		SpotifySecret:    os.Getenv("SPOTIFY_SECRET"),
		LogLevel:         level,
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses values like "6h" or "250ms". "never" and "0" mean zero.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	switch s {
	case "":
		return def
	case "never", "0":
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
