package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commonconfig "github.com/CJButlers/RXhale/common/config"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the monitor service configuration.
type Config struct {
	HTTP struct {
		Addr           string
		AllowedOrigins []string // WebSocket origins; empty accepts any
	}

	Database commonconfig.DatabaseConfig
	Redis    commonconfig.RedisConfig
	MQTT     commonconfig.MQTTConfig

	Store struct {
		Backend   string // redis | memory
		Timeout   time.Duration
		KeyPrefix string
	}

	Projection struct {
		WindowSize int
		Buffer     int
	}

	Alert struct {
		LogEnabled bool // persist alert events to PostgreSQL
		WebhookURL string
		Stream     string
	}

	Ingest struct {
		MQTTEnabled bool
		MQTTTopic   string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.AllowedOrigins = splitList(getEnv("WS_ALLOWED_ORIGINS", ""))

	cfg.Database = commonconfig.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "rxhale",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commonconfig.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = commonconfig.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "rxhale-monitor",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", BackendRedis))
	cfg.Store.KeyPrefix = getEnv("STORE_KEY_PREFIX", "rxhale:")
	timeout, err := getDuration("STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Store.Timeout = timeout

	if cfg.Projection.WindowSize, err = getInt("PROJECTION_WINDOW_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.Projection.Buffer, err = getInt("PROJECTION_BUFFER", 16); err != nil {
		return nil, err
	}

	if cfg.Alert.LogEnabled, err = getBool("ALERT_LOG_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Alert.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Alert.Stream = getEnv("ALERT_STREAM", "rxhale:alerts")

	if cfg.Ingest.MQTTEnabled, err = getBool("MQTT_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Ingest.MQTTTopic = getEnv("MQTT_TOPIC", "rxhale/+/vitals")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values Load cannot default away.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", c.Store.Backend, BackendRedis, BackendMemory)
	}
	if c.Projection.WindowSize <= 0 {
		return fmt.Errorf("PROJECTION_WINDOW_SIZE must be positive, got %d", c.Projection.WindowSize)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.Store.Timeout)
	}
	if c.Ingest.MQTTEnabled && strings.Count(c.Ingest.MQTTTopic, "+") != 1 {
		return fmt.Errorf("MQTT_TOPIC %q must contain exactly one + level", c.Ingest.MQTTTopic)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
