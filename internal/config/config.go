package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envRegistryPath    = "NW_REGISTRY"
	envComposePath     = "NW_COMPOSE_FILE"
	envTickInterval    = "NW_TICK_INTERVAL"
	envTickTimeout     = "NW_TICK_TIMEOUT"
	envProbeTimeout    = "NW_PROBE_TIMEOUT"
	envProbeWorkers    = "NW_PROBE_WORKERS"
	envSlackWebhookURL = "NW_SLACK_WEBHOOK_URL"
	envWebhookURL      = "NW_WEBHOOK_URL"
	envAuditLogPath    = "NW_AUDIT_LOG"
	envDockerHost      = "NW_DOCKER_HOST"
	envHealthPort      = "NW_HEALTH_PORT"
	envMetricsPort     = "NW_METRICS_PORT"
	envLogLevel        = "NW_LOG_LEVEL"
)

const (
	defaultTickInterval = 60 * time.Second
	defaultTickTimeout  = 2 * time.Minute
	defaultProbeTimeout = 5 * time.Second
	defaultProbeWorkers = 4
	defaultAuditLogPath = "node-warden-audit.log"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	RegistryPath    string
	ComposePath     string
	TickInterval    time.Duration
	TickTimeout     time.Duration
	ProbeTimeout    time.Duration
	ProbeWorkers    int
	SlackWebhookURL string
	WebhookURL      string
	AuditLogPath    string
	DockerHost      string
	HealthPort      int
	MetricsPort     int
	LogLevel        string
}

// Load reads configuration from environment variables and a local .env file
// if present. Existing environment variables take precedence over .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		TickInterval: defaultTickInterval,
		TickTimeout:  defaultTickTimeout,
		ProbeTimeout: defaultProbeTimeout,
		ProbeWorkers: defaultProbeWorkers,
		AuditLogPath: defaultAuditLogPath,
	}

	if value, ok := lookupTrimmed(envRegistryPath); ok {
		cfg.RegistryPath = value
	}
	if value, ok := lookupTrimmed(envComposePath); ok {
		cfg.ComposePath = value
	}

	var err error
	if cfg.TickInterval, err = durationEnv(envTickInterval, cfg.TickInterval); err != nil {
		return Config{}, err
	}
	if cfg.TickTimeout, err = durationEnv(envTickTimeout, cfg.TickTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProbeTimeout, err = durationEnv(envProbeTimeout, cfg.ProbeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProbeWorkers, err = intEnv(envProbeWorkers, cfg.ProbeWorkers); err != nil {
		return Config{}, err
	}
	if cfg.ProbeWorkers <= 0 {
		return Config{}, fmt.Errorf("%s must be greater than zero", envProbeWorkers)
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := lookupTrimmed(envAuditLogPath); ok {
		cfg.AuditLogPath = value
	}
	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	if cfg.HealthPort, err = intEnv(envHealthPort, 0); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = intEnv(envMetricsPort, 0); err != nil {
		return Config{}, err
	}

	if cfg.RegistryPath == "" && cfg.ComposePath == "" {
		return Config{}, errors.New("NW_REGISTRY or NW_COMPOSE_FILE is required")
	}
	if cfg.RegistryPath != "" && cfg.ComposePath != "" {
		return Config{}, errors.New("NW_REGISTRY and NW_COMPOSE_FILE are mutually exclusive")
	}

	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func intEnv(key string, fallback int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// lookupTrimmed treats a set-but-empty variable as unset.
func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
