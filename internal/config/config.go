package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Sink names accepted by SINK
const (
	SinkFile     = "file"
	SinkPostgres = "postgres"
)

// Config holds the application configuration
type Config struct {
	FeedAddr        string
	OutputDir       string
	Sink            string
	DBConnStr       string
	NATSURL         string
	RedisAddr       string
	ReconnectDelay  time.Duration
	ReadTimeout     time.Duration
	ReadBufferSize  int
	FlushOnShutdown bool
	StatsInterval   time.Duration
	LogLevel        logrus.Level
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		FeedAddr:  os.Getenv("FEED_ADDR"),
		OutputDir: getEnv("OUTPUT_DIR", "./data/adsb"),
		Sink:      getEnv("SINK", SinkFile),
		DBConnStr: os.Getenv("DB_CONN_STR"),
		NATSURL:   os.Getenv("NATS_URL"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
	}

	if cfg.FeedAddr == "" {
		return nil, fmt.Errorf("FEED_ADDR environment variable is required")
	}

	switch cfg.Sink {
	case SinkFile:
	case SinkPostgres:
		if cfg.DBConnStr == "" {
			return nil, fmt.Errorf("DB_CONN_STR environment variable is required when SINK=%s", SinkPostgres)
		}
	default:
		return nil, fmt.Errorf("unknown SINK %q", cfg.Sink)
	}

	var err error
	if cfg.ReconnectDelay, err = getDuration("RECONNECT_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = getDuration("READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatsInterval, err = getDuration("STATS_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReadBufferSize, err = getInt("READ_BUFFER_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.FlushOnShutdown, err = getBool("FLUSH_ON_SHUTDOWN", true); err != nil {
		return nil, err
	}

	cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
