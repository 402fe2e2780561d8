package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"devoid_client/core/validation"
)

// Config holds all configuration values
type Config struct {
	// Generator service connection
	Endpoint string // Base websocket URL (GENERATOR_ENDPOINT)
	Service  string // Service name appended to the endpoint and sent as a header
	Token    string // Service token sent in the authorization header

	// Connection timings
	RetryDelay        time.Duration // Wait between failed connection attempts
	ReconnectCooldown time.Duration // Wait after a lost connection before reconnecting
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration // Zero disables keepalive pings

	// Dispatch and queueing
	HandlerConcurrency int           // Max concurrently running response handlers
	InFlightTimeout    time.Duration // Zero waits for the connection-error sweep
	DefaultQueueSize   int           // Per-user capacity when a request does not set one

	// Driver outputs
	DownloadsDir     string
	DownloadResults  bool
	JournalPath      string        // Empty disables the generation journal
	JournalRetention time.Duration // Zero keeps every journal entry
	MetricsAddr      string        // Empty disables the /metrics listener

	// Logging
	LogFile  string
	LogLevel string
	DevMode  bool
}

// LoadEnvFile loads variables from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Endpoint: strings.TrimSpace(os.Getenv("GENERATOR_ENDPOINT")),
		Service:  strings.TrimSpace(os.Getenv("GENERATOR_SERVICE")),
		Token:    os.Getenv("GENERATOR_TOKEN"),

		RetryDelay:        ParseDurationEnv("RETRY_DELAY", 5),
		ReconnectCooldown: ParseDurationEnv("RECONNECT_COOLDOWN", 2),
		HandshakeTimeout:  ParseDurationEnv("HANDSHAKE_TIMEOUT", 10),
		WriteTimeout:      ParseDurationEnv("WRITE_TIMEOUT", 10),
		PingInterval:      ParseDurationEnv("PING_INTERVAL", 0),

		HandlerConcurrency: ParseIntEnv("HANDLER_CONCURRENCY", 64),
		InFlightTimeout:    ParseDurationEnv("INFLIGHT_TIMEOUT", 0),
		DefaultQueueSize:   ParseIntEnv("DEFAULT_QUEUE_SIZE", 1),

		DownloadsDir:     GetEnvOrDefault("DOWNLOADS_DIR", "gens"),
		DownloadResults:  ParseBoolEnv("DOWNLOAD_RESULTS", true),
		JournalPath:      os.Getenv("JOURNAL_PATH"),
		JournalRetention: ParseDurationEnv("JOURNAL_RETENTION", 0),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),

		LogFile:  GetEnvOrDefault("LOG_FILE", "devoid_client.log"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		DevMode:  ParseBoolEnv("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges. It returns a *ConfigError.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrMissingConfig("GENERATOR_ENDPOINT")
	}
	if err := validation.ValidateEndpointURL(c.Endpoint); err != nil {
		return ErrInvalidEndpoint(c.Endpoint, err.Error())
	}
	if c.Service == "" {
		return ErrMissingConfig("GENERATOR_SERVICE")
	}
	if err := validation.ValidateServiceName(c.Service); err != nil {
		return ErrInvalidValue("GENERATOR_SERVICE", err.Error())
	}
	if c.Token == "" {
		return ErrMissingAuth()
	}
	if c.RetryDelay <= 0 {
		return ErrInvalidValue("RETRY_DELAY", "must be at least 1 second")
	}
	if c.ReconnectCooldown < 0 {
		return ErrInvalidValue("RECONNECT_COOLDOWN", "must not be negative")
	}
	if c.HandlerConcurrency < 1 {
		return ErrInvalidValue("HANDLER_CONCURRENCY", "must be at least 1")
	}
	if c.DefaultQueueSize < 1 {
		return ErrInvalidValue("DEFAULT_QUEUE_SIZE", "must be at least 1")
	}
	if c.JournalRetention < 0 {
		return ErrInvalidValue("JOURNAL_RETENTION", "must not be negative")
	}
	if c.InFlightTimeout < 0 || c.PingInterval < 0 {
		return ErrInvalidValue("INFLIGHT_TIMEOUT/PING_INTERVAL", "must not be negative")
	}
	return nil
}
