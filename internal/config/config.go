package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/alcaldia/chatrelay/pkg/logger"
)

const (
	defaultPort          = "5000"
	defaultLogLevel      = "INFO"
	defaultWebhookURL    = "http://n8n:5678/webhook/chat-alcaldia"
	defaultTimeoutSecs   = "180"
	defaultProbeSchedule = "@every 1m"
)

// Config represents the full application configuration surface. It is built
// once at start-up and treated as read-only afterwards.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	N8N     N8NConfig
	Probe   ProbeConfig
	Metrics MetricsConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port               string
	CORSAllowedOrigins []string
}

// LogConfig holds logging options.
type LogConfig struct {
	Level string
}

// N8NConfig points the relay at the workflow webhook.
type N8NConfig struct {
	WebhookURL string
	HealthURL  string
	Timeout    time.Duration
}

// ProbeConfig holds the upstream reachability probe schedule. An empty
// schedule disables the probe.
type ProbeConfig struct {
	Schedule string
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are fine when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	webhookURL := getenvWithDefault("N8N_WEBHOOK_URL", defaultWebhookURL)

	timeout, err := parseSeconds(getenvWithDefault("REQUEST_TIMEOUT", defaultTimeoutSecs))
	if err != nil {
		return nil, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getenvWithDefault("APP_PORT", defaultPort),
			CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", defaultLogLevel),
		},
		N8N: N8NConfig{
			WebhookURL: webhookURL,
			HealthURL:  getenvWithDefault("N8N_HEALTH_URL", deriveHealthURL(webhookURL)),
			Timeout:    timeout,
		},
		Probe: ProbeConfig{
			Schedule: lookupWithDefault("UPSTREAM_PROBE_SCHEDULE", defaultProbeSchedule),
		},
		Metrics: MetricsConfig{
			Enabled: getenvBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated and
// well formed. Every problem found is reported, not just the first.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var result *multierror.Error

	if c.Server.Port == "" {
		result = multierror.Append(result, errors.New("APP_PORT must be provided"))
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := validateURL(c.N8N.WebhookURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("N8N_WEBHOOK_URL: %w", err))
	}

	if c.N8N.HealthURL != "" {
		if err := validateURL(c.N8N.HealthURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("N8N_HEALTH_URL: %w", err))
		}
	}

	if c.N8N.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("REQUEST_TIMEOUT must be greater than 0, got %s", c.N8N.Timeout))
	}

	if c.Probe.Schedule != "" {
		if _, err := cron.ParseStandard(c.Probe.Schedule); err != nil {
			result = multierror.Append(result, fmt.Errorf("UPSTREAM_PROBE_SCHEDULE: %w", err))
		}
	}

	return result.ErrorOrNil()
}

func parseSeconds(raw string) (time.Duration, error) {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("must be an integer number of seconds, got %q", raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must be provided")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

// deriveHealthURL points at n8n's own /healthz on the webhook's host so the
// probe never triggers the workflow.
func deriveHealthURL(webhookURL string) string {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/healthz"}).String()
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// lookupWithDefault differs from getenvWithDefault in that an explicitly
// empty variable is kept.
func lookupWithDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
