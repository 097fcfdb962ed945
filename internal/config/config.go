// Package config loads the agent configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete agent configuration.
type Config struct {
	AppEnv   string
	LogLevel slog.Level

	MQTTBroker   string
	MQTTClientID string
	MQTTPrefix   string
	MQTTUsername string
	MQTTPassword string

	RelayCount     int
	RelayPins      []int
	GPIOChip       string
	GPIOEnabled    bool
	RelayActiveLow bool

	BatteryThreshold float64
	WriteTimeout     time.Duration
	Heartbeat        time.Duration

	HTTPAddr    string
	CORSOrigins []string

	ForecastURL     string
	ForecastTimeout time.Duration
	ForecastSummary string
	ForecastUsage   float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JournalPath string
	Preferences string
}

// Load reads envFile (if it exists) into the environment without overriding
// variables that are already set, then calls LoadFromEnv.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from environment variables, applying defaults.
// Errors name the offending variable.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		AppEnv:          str("APP_ENV", "dev"),
		MQTTBroker:      str("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    str("MQTT_CLIENT_ID", "relay-agent"),
		MQTTPrefix:      str("MQTT_PREFIX", "solaris"),
		MQTTUsername:    str("MQTT_USERNAME", ""),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		GPIOChip:        str("GPIO_CHIP", "gpiochip0"),
		HTTPAddr:        str("HTTP_ADDR", ":8080"),
		ForecastURL:     str("FORECAST_URL", ""),
		ForecastSummary: str("FORECAST_SUMMARY", ""),
		RedisAddr:       str("REDIS_ADDR", ""),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		JournalPath:     str("JOURNAL_PATH", "data/journal.db"),
		Preferences:     os.Getenv("USER_PREFERENCES"),
	}

	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	var err error
	if cfg.LogLevel, err = parseLogLevel(str("LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}
	if cfg.RelayPins, err = parsePins(str("RELAY_PINS", "13,14,27,26,25")); err != nil {
		return Config{}, err
	}
	if cfg.RelayCount, err = intVar("RELAY_COUNT", len(cfg.RelayPins)); err != nil {
		return Config{}, err
	}
	if cfg.GPIOEnabled, err = boolVar("GPIO_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.RelayActiveLow, err = boolVar("RELAY_ACTIVE_LOW", true); err != nil {
		return Config{}, err
	}
	if cfg.BatteryThreshold, err = floatVar("BATTERY_THRESHOLD", 40); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = durationVar("WRITE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Heartbeat, err = durationVar("HEARTBEAT", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ForecastTimeout, err = durationVar("FORECAST_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ForecastUsage, err = floatVar("FORECAST_USAGE", 0); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = intVar("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	cfg.CORSOrigins = splitList(str("CORS_ORIGINS", "*"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.RelayCount < 1 {
		return fmt.Errorf("invalid RELAY_COUNT %d (must be at least 1)", c.RelayCount)
	}
	if c.GPIOEnabled && len(c.RelayPins) < c.RelayCount {
		return fmt.Errorf("RELAY_PINS has %d pins for RELAY_COUNT %d", len(c.RelayPins), c.RelayCount)
	}
	if c.BatteryThreshold < 0 || c.BatteryThreshold > 100 {
		return fmt.Errorf("invalid BATTERY_THRESHOLD %v (must be 0-100)", c.BatteryThreshold)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("invalid WRITE_TIMEOUT %v (must be positive)", c.WriteTimeout)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("invalid HEARTBEAT %v (0 disables, negative not allowed)", c.Heartbeat)
	}
	if c.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required")
	}
	return nil
}

// Pins returns the pins of the configured relays only.
func (c Config) Pins() []int {
	if len(c.RelayPins) > c.RelayCount {
		return c.RelayPins[:c.RelayCount]
	}
	return c.RelayPins
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intVar(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func floatVar(key string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func boolVar(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func durationVar(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func parsePins(s string) ([]int, error) {
	var pins []int
	for _, part := range splitList(s) {
		p, err := strconv.Atoi(part)
		if err != nil || p < 0 {
			return nil, fmt.Errorf("invalid RELAY_PINS entry %q", part)
		}
		pins = append(pins, p)
	}
	return pins, nil
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

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
