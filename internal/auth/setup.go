package auth

import (
	"net/http"

	"notebroker/internal/config"
)

// SetupOptions adjusts NewManagerFromConfig.
type SetupOptions struct {
	// OpenBrowser overrides the default browser launcher. Ignored when
	// cfg.OAuth.OpenBrowser is false.
	OpenBrowser func(string) error
	HTTPClient  *http.Client
	Clock       Clock
}

// NewManagerFromConfig wires the credential store, exchanger and listener
// from configuration. This is how the CLI and the MCP server obtain a
// Manager.
func NewManagerFromConfig(cfg config.Config, opts SetupOptions) (*Manager, error) {
	store := NewCredentialStore(cfg.CredentialsPath(), cfg.Storage.AppSecret)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Backend.RequestTimeout}
	}

	exchanger := NewExchanger(ExchangerConfig{
		TokenURL:   cfg.OAuth.TokenURL,
		RevokeURL:  cfg.OAuth.RevokeURL,
		ClientID:   cfg.OAuth.ClientID,
		HTTPClient: httpClient,
		Clock:      opts.Clock,
	})

	var browser func(string) error
	if cfg.OAuth.OpenBrowser {
		browser = opts.OpenBrowser
		if browser == nil {
			browser = OpenBrowser
		}
	}

	return NewManager(ManagerConfig{
		Store:         store,
		Exchanger:     exchanger,
		Listener:      ListenerConfigFromConfig(cfg.OAuth),
		RefreshBuffer: cfg.OAuth.RefreshBuffer,
		OpenBrowser:   browser,
		Clock:         opts.Clock,
	})
}
