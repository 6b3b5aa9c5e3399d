package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds the telemetry broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// DeviceAPIConfig holds the home-automation device API settings. Token is
// a bearer token; a missing token short-circuits the push pipeline.
type DeviceAPIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// ModeSettleDelay is the wait after a mode-change command before any
	// further command; the device firmware applies mode changes
	// asynchronously.
	ModeSettleDelay time.Duration
	// ReadbackDelay is the wait before the post-push state re-query.
	ReadbackDelay time.Duration
}

// Config is the full service configuration, loaded from environment
// variables with defaults.
type Config struct {
	DB        DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	DeviceAPI DeviceAPIConfig

	Push struct {
		IntervalMinutes int
		Trigger         string // audit label for scheduled cycles
	}

	Alerts struct {
		ScanIntervalMinutes   int
		RepeatIntervalMinutes int
		Stream                string // realtime entity-change stream
		ConsumerGroup         string
		ConsumerName          string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_NAME", "storeops")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.DB.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.DB.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "storeops-hvac")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "storeops/telemetry/#")
	cfg.MQTT.QoS = 1

	cfg.DeviceAPI.BaseURL = getEnv("DEVICE_API_URL", "")
	cfg.DeviceAPI.Token = getEnv("DEVICE_API_TOKEN", "")
	cfg.DeviceAPI.Timeout = time.Duration(getEnvInt("DEVICE_API_TIMEOUT_SECONDS", 10)) * time.Second
	cfg.DeviceAPI.ModeSettleDelay = time.Duration(getEnvInt("DEVICE_MODE_SETTLE_MS", 1500)) * time.Millisecond
	cfg.DeviceAPI.ReadbackDelay = time.Duration(getEnvInt("DEVICE_READBACK_DELAY_MS", 1000)) * time.Millisecond

	cfg.Push.IntervalMinutes = getEnvInt("PUSH_INTERVAL_MINUTES", 5)
	cfg.Push.Trigger = getEnv("PUSH_TRIGGER_LABEL", "cron-5min")

	cfg.Alerts.ScanIntervalMinutes = getEnvInt("ALERT_SCAN_INTERVAL_MINUTES", 5)
	cfg.Alerts.RepeatIntervalMinutes = getEnvInt("ALERT_REPEAT_INTERVAL_MINUTES", 15)
	cfg.Alerts.Stream = getEnv("ALERT_STREAM", "storeops:entity-changes")
	cfg.Alerts.ConsumerGroup = getEnv("ALERT_CONSUMER_GROUP", "alert-engine")
	cfg.Alerts.ConsumerName = getEnv("ALERT_CONSUMER_NAME", "alert-engine-1")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
