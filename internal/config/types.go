package config

import "time"

// Config is the top-level configuration structure for notebroker.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Storage StorageConfig `yaml:"storage"`
	Usage   UsageConfig   `yaml:"usage"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig locates the productivity backend.
type BackendConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	UsagePath      string        `yaml:"usagePath,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
}

// ResponseMode selects how a provider delivers callback parameters.
type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFormPost ResponseMode = "form_post"
)

// ProviderConfig describes one sign-in option on the login page.
type ProviderConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName,omitempty"`

	// CallbackPath defaults to OAuthConfig.CallbackPath + "/" + Name.
	CallbackPath string       `yaml:"callbackPath,omitempty"`
	ResponseMode ResponseMode `yaml:"responseMode,omitempty"`
}

// OAuthConfig configures the authorization server and the local listener.
type OAuthConfig struct {
	AuthorizeURL string   `yaml:"authorizeURL,omitempty"`
	TokenURL     string   `yaml:"tokenURL,omitempty"`
	RevokeURL    string   `yaml:"revokeURL,omitempty"`
	ClientID     string   `yaml:"clientID"`
	Scopes       []string `yaml:"scopes,omitempty"`

	Providers    []ProviderConfig `yaml:"providers,omitempty"`
	CallbackPath string           `yaml:"callbackPath,omitempty"`

	PreferredPort      int   `yaml:"preferredPort"`
	FallbackPorts      []int `yaml:"fallbackPorts,omitempty"`
	AllowEphemeralPort bool  `yaml:"allowEphemeralPort"`

	// Timeout bounds how long an attempt waits for the browser.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// RefreshBuffer is how far ahead of expiry a token is refreshed.
	RefreshBuffer time.Duration `yaml:"refreshBuffer,omitempty"`

	// OpenBrowser controls whether the CLI launches the system browser.
	OpenBrowser bool `yaml:"openBrowser"`
}

// StorageConfig configures the credential file.
type StorageConfig struct {
	// Dir defaults to the configuration directory.
	Dir       string `yaml:"dir,omitempty"`
	FileName  string `yaml:"fileName,omitempty"`
	AppSecret string `yaml:"appSecret,omitempty"`
}

// UsageConfig configures the usage gate.
type UsageConfig struct {
	CacheTTL   time.Duration `yaml:"cacheTTL,omitempty"`
	UpgradeURL string        `yaml:"upgradeURL,omitempty"`
	// WarningThreshold is the remaining fraction at or below which a warning
	// is attached (0.2 means 20%).
	WarningThreshold float64 `yaml:"warningThreshold,omitempty"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
