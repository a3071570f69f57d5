package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
)

// appDir is the directory under the XDG data home holding the database.
const appDir = "sml-meter-logger"

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	LogFile     string
	Verbose     bool
	Database    DatabaseConfig
	Serial      SerialConfig
	HTTP        HTTPConfig
	RabbitMQ    RabbitMQConfig
	MQTT        MQTTConfig
	Mirror      MirrorConfig
	Anomaly     AnomalyConfig
}

// DatabaseConfig holds the SQLite location
type DatabaseConfig struct {
	Path string
}

// SerialConfig holds serial port settings
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// HTTPConfig holds the listen address of the HTTP surface
type HTTPConfig struct {
	Host string
	Port int
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RabbitMQConfig holds RabbitMQ settings. Publishing is disabled without URL.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// MQTTConfig holds MQTT settings. Publishing is disabled without broker.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// MirrorConfig holds the PostgreSQL mirror settings. Disabled without URL.
type MirrorConfig struct {
	DatabaseURL string
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	Window                    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "sml-meter-logger"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		Verbose:     getEnvAsBool("VERBOSE", false),
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", DefaultDatabasePath()),
		},
		Serial: SerialConfig{
			Port:        getEnv("SERIAL_PORT", ""),
			BaudRate:    getEnvAsInt("SERIAL_BAUD_RATE", 9600),
			ReadTimeout: getEnvAsDuration("SERIAL_READ_TIMEOUT", 5*time.Second),
		},
		HTTP: HTTPConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnvAsInt("HTTP_PORT", 3000),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        getEnv("RABBITMQ_URL", ""),
			Exchange:   getEnv("RABBITMQ_EXCHANGE", "sml-meter-logger.events.exchange"),
			RoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "meter.reading.ingested"),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "sml-meter-logger"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "sml-meter-logger"),
		},
		Mirror: MirrorConfig{
			DatabaseURL: getEnv("MIRROR_DATABASE_URL", ""),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			Window:                    getEnvAsInt("ANOMALY_WINDOW", 60),
		},
	}

	// Validate fields
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return nil, fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", cfg.HTTP.Port)
	}
	if cfg.Serial.BaudRate <= 0 {
		return nil, fmt.Errorf("SERIAL_BAUD_RATE must be positive, got %d", cfg.Serial.BaudRate)
	}

	return cfg, nil
}

// DefaultDatabasePath returns <XDG data home>/sml-meter-logger/database.sqlite3.
// The directory is created by the store on first use.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, appDir, "database.sqlite3")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
