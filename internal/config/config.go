package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tag_tracker/internal/geo"
)

// Config holds everything the server reads from the environment.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string
	// DBNotify routes change notifications through Postgres LISTEN/NOTIFY
	// so several server instances share one feed.
	DBNotify bool

	HTTPAddr  string
	JWTSecret string

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	AlertTimezone     *time.Location
	FenceRadiusMeters float64
	TickSpec          string
	// AlertOnOpen makes a freshly opened watch session alert on
	// excursions already under way.
	AlertOnOpen bool

	LogFile  string
	LogLevel string
}

// Load reads .env (if present) and the environment, with defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, relying on env vars.")
	}

	cfg := Config{
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "password"),
		DBName:          getEnv("DB_NAME", "tracker"),
		DBSSLMode:       getEnv("DB_SSLMODE", "disable"),
		DBTimeZone:      getEnv("DB_TIMEZONE", "UTC"),
		HTTPAddr:        getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "tags"),
		TickSpec:        getEnv("ALERT_TICK", "@every 1m"),
		LogFile:         getEnv("LOG_FILE", "./logs/app.log"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	notify, err := strconv.ParseBool(getEnv("DB_NOTIFY", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_NOTIFY: %w", err)
	}
	cfg.DBNotify = notify

	onOpen, err := strconv.ParseBool(getEnv("ALERT_ON_OPEN", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ALERT_ON_OPEN: %w", err)
	}
	cfg.AlertOnOpen = onOpen

	radius, err := strconv.ParseFloat(getEnv("FENCE_RADIUS_METERS", strconv.FormatFloat(geo.DefaultRadiusMeters, 'f', -1, 64)), 64)
	if err != nil || radius <= 0 {
		return Config{}, fmt.Errorf("invalid FENCE_RADIUS_METERS %q", os.Getenv("FENCE_RADIUS_METERS"))
	}
	cfg.FenceRadiusMeters = radius

	loc, err := time.LoadLocation(getEnv("ALERT_TIMEZONE", "Local"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ALERT_TIMEZONE: %w", err)
	}
	cfg.AlertTimezone = loc

	return cfg, nil
}

// DSN is the Postgres connection string, usable by both gorm and lib/pq.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode, c.DBTimeZone,
	)
}

// getEnv reads an environment variable or returns the provided default
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}
