package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"studychat/internal/constants"
	"studychat/internal/models"
	"studychat/internal/security"
)

var (
	ErrMissingAPIURL     = models.ConfigError{Message: "missing backend API base URL"}
	ErrMissingChannelURL = models.ConfigError{Message: "missing live channel URL"}
	ErrMissingUserID     = models.ConfigError{Message: "missing local user id"}
)

// LoadConfig reads, validates and normalizes the JSON configuration.
// Environment overrides are applied after the file so secrets can stay
// out of it.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.API.BaseURL == "" {
		return ErrMissingAPIURL
	}
	if _, err := url.Parse(c.API.BaseURL); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid API base URL: %v", err)}
	}
	if c.Channel.URL == "" {
		return ErrMissingChannelURL
	}
	u, err := url.Parse(c.Channel.URL)
	if err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid channel URL: %v", err)}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return models.ConfigError{Message: fmt.Sprintf("channel URL must use ws or wss scheme, got %q", u.Scheme)}
	}
	if c.UserID == "" {
		return ErrMissingUserID
	}
	if c.Store.Path != "" {
		if err := security.ValidateFilePath(c.Store.Path); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid store path: %v", err)}
		}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.API.HistoryTimeoutSec <= 0 {
		c.API.HistoryTimeoutSec = constants.DefaultHistoryTimeoutSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultReconnectInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultReconnectMaxMs
	}
	if c.Retry.MaxAttempts < 0 {
		c.Retry.MaxAttempts = constants.DefaultReconnectAttempts
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "studychat"
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = 1.0
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("STUDYCHAT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	// Tokens should come from the environment rather than the file.
	if v := os.Getenv("STUDYCHAT_API_TOKEN"); v != "" {
		c.API.AuthToken = v
	}
	if v := os.Getenv("STUDYCHAT_CHANNEL_URL"); v != "" {
		c.Channel.URL = v
	}
	if v := os.Getenv("STUDYCHAT_CHANNEL_TOKEN"); v != "" {
		c.Channel.AuthToken = v
	}
	if v := os.Getenv("STUDYCHAT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("STUDYCHAT_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("STUDYCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
