package models

// Config holds the application configuration
type Config struct {
	API      APIConfig     `json:"api"`
	Channel  ChannelConfig `json:"channel"`
	Store    StoreConfig   `json:"store"`
	Retry    RetryConfig   `json:"retry"`
	Tracing  TracingConfig `json:"tracing"`
	LogLevel string        `json:"log_level"`

	// UserID is the local identity used to tag message direction.
	UserID string `json:"user_id"`
}

// APIConfig holds REST backend related configuration
type APIConfig struct {
	BaseURL           string `json:"base_url"`
	AuthToken         string `json:"auth_token"`
	TimeoutSec        int    `json:"timeout_sec"`
	HistoryTimeoutSec int    `json:"history_timeout_sec"`
}

// ChannelConfig holds live push channel configuration
type ChannelConfig struct {
	URL       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// StoreConfig holds the optional local message archive configuration
type StoreConfig struct {
	Path string `json:"path"`
}

// RetryConfig holds reconnect backoff configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

// ConfigError represents a configuration validation failure
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}
