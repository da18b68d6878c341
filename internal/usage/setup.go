package usage

import (
	"context"

	"golang.org/x/oauth2"

	"notebroker/internal/config"
)

// NewGateFromConfig wires a Gate whose fetches are authenticated through ts.
func NewGateFromConfig(ctx context.Context, cfg config.Config, ts oauth2.TokenSource, identity IdentitySource) *Gate {
	client := NewAuthenticatedClient(ctx, cfg.UsageURL(), ts, cfg.Backend.RequestTimeout)
	return NewGate(GateConfig{
		Fetcher:          client,
		Identity:         identity,
		TTL:              cfg.Usage.CacheTTL,
		UpgradeURL:       cfg.Usage.UpgradeURL,
		WarningThreshold: cfg.Usage.WarningThreshold,
	})
}
