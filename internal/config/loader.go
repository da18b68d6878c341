package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"notebroker/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/notebroker"
	configFileName = "config.yaml"

	// EnvConfigDir overrides the default configuration directory.
	EnvConfigDir = "NOTEBROKER_CONFIG_DIR"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns the configuration directory, honouring
// NOTEBROKER_CONFIG_DIR.
func GetDefaultConfigPath() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads configuration from configPath/config.yaml on top of the
// defaults, applies environment overrides, fills derived endpoints and
// validates the result.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, newConfigurationError(configFilePath, "parse", "malformed YAML", err,
				"check indentation and that durations are strings like \"24h\"")
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	default:
		return Config{}, newConfigurationError(configFilePath, "io", "cannot read configuration file", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return Config{}, newConfigurationError(configFilePath, "validation", "invalid environment override", err)
	}
	config.applyDerived(configPath)

	if err := config.Validate(); err != nil {
		return Config{}, newConfigurationError(configFilePath, "validation", "invalid configuration", err)
	}
	return config, nil
}

func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("NOTEBROKER_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("NOTEBROKER_CLIENT_ID"); v != "" {
		c.OAuth.ClientID = v
	}
	if v := os.Getenv("NOTEBROKER_APP_SECRET"); v != "" {
		c.Storage.AppSecret = v
	}
	if v := os.Getenv("NOTEBROKER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NOTEBROKER_CALLBACK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NOTEBROKER_CALLBACK_PORT: %w", err)
		}
		c.OAuth.PreferredPort = port
	}
	return nil
}

// applyDerived fills endpoint URLs from the backend base URL and the
// credential directory from the configuration directory.
func (c *Config) applyDerived(configPath string) {
	base := strings.TrimRight(c.Backend.BaseURL, "/")
	if c.OAuth.AuthorizeURL == "" {
		c.OAuth.AuthorizeURL = base + "/oauth/authorize"
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = base + "/oauth/token"
	}
	if c.OAuth.RevokeURL == "" {
		c.OAuth.RevokeURL = base + "/oauth/revoke"
	}
	if c.Backend.UsagePath == "" {
		c.Backend.UsagePath = DefaultUsagePath
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = configPath
	}
	if c.Storage.FileName == "" {
		c.Storage.FileName = DefaultCredentialsFile
	}
	for i := range c.OAuth.Providers {
		p := &c.OAuth.Providers[i]
		if p.DisplayName == "" {
			p.DisplayName = p.Name
		}
		if p.ResponseMode == "" {
			p.ResponseMode = ResponseModeQuery
		}
		if p.CallbackPath == "" {
			p.CallbackPath = strings.TrimRight(c.OAuth.CallbackPath, "/") + "/" + p.Name
		}
	}
}

// UsageURL is the absolute URL of the usage-accounting endpoint.
func (c *Config) UsageURL() string {
	return strings.TrimRight(c.Backend.BaseURL, "/") + c.Backend.UsagePath
}

// CredentialsPath is the absolute path of the encrypted session file.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.FileName)
}
