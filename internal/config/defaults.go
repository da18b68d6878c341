package config

import "time"

const (
	DefaultBackendURL       = "https://api.notebroker.dev"
	DefaultUsagePath        = "/api/usage"
	DefaultClientID         = "notebroker-cli"
	DefaultCallbackPath     = "/callback"
	DefaultPreferredPort    = 8765
	DefaultAuthTimeout      = 5 * time.Minute
	DefaultRefreshBuffer    = 24 * time.Hour
	DefaultUsageCacheTTL    = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultWarningThreshold = 0.2
	DefaultCredentialsFile  = "credentials.enc"

	// DefaultAppSecret keys the at-rest encryption of the credential file.
	// It guards against casual inspection only.
	DefaultAppSecret = "notebroker/credential-store/v1"

	DefaultUpgradeURL = "https://notebroker.dev/upgrade"
)

// DefaultFallbackPorts are tried in order after the preferred port.
var DefaultFallbackPorts = []int{8766, 8767, 8768}

// DefaultProviders are the sign-in options shown on the login page.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "google", DisplayName: "Google", ResponseMode: ResponseModeQuery},
		{Name: "microsoft", DisplayName: "Microsoft", ResponseMode: ResponseModeFormPost},
		{Name: "email", DisplayName: "Email", ResponseMode: ResponseModeQuery},
	}
}

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        DefaultBackendURL,
			UsagePath:      DefaultUsagePath,
			RequestTimeout: DefaultRequestTimeout,
		},
		OAuth: OAuthConfig{
			ClientID:           DefaultClientID,
			Scopes:             []string{"notes", "tasks", "offline_access"},
			Providers:          DefaultProviders(),
			CallbackPath:       DefaultCallbackPath,
			PreferredPort:      DefaultPreferredPort,
			FallbackPorts:      append([]int(nil), DefaultFallbackPorts...),
			AllowEphemeralPort: true,
			Timeout:            DefaultAuthTimeout,
			RefreshBuffer:      DefaultRefreshBuffer,
			OpenBrowser:        true,
		},
		Storage: StorageConfig{
			FileName:  DefaultCredentialsFile,
			AppSecret: DefaultAppSecret,
		},
		Usage: UsageConfig{
			CacheTTL:         DefaultUsageCacheTTL,
			UpgradeURL:       DefaultUpgradeURL,
			WarningThreshold: DefaultWarningThreshold,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
