package usage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	pkgauth "notebroker/pkg/auth"
	"notebroker/pkg/logging"
)

// DefaultCacheTTL bounds how long a snapshot is trusted.
const DefaultCacheTTL = 60 * time.Second

// Fetcher retrieves a fresh snapshot. *Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// IdentitySource reports who is signed in. *auth.Manager implements it.
type IdentitySource interface {
	Identity() (userID string, tier pkgauth.Tier, ok bool)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// GateConfig wires a Gate.
type GateConfig struct {
	Fetcher  Fetcher
	Identity IdentitySource

	TTL              time.Duration
	UpgradeURL       string
	WarningThreshold float64

	Clock Clock
}

// Gate answers "may this operation run now?" from a cached snapshot.
// It is safe for concurrent use.
type Gate struct {
	cfg   GateConfig
	clock Clock

	mu       sync.Mutex
	snapshot *Snapshot

	group singleflight.Group
}

// NewGate creates a Gate. A non-positive TTL gets DefaultCacheTTL.
func NewGate(cfg GateConfig) *Gate {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Gate{cfg: cfg, clock: clock}
}

// CheckUsage decides whether op may run. It never fails: when the backend
// cannot be reached the decision is made against FREE limits with zero
// usage. Unknown operations are not metered.
func (g *Gate) CheckUsage(ctx context.Context, op Operation) Decision {
	snap := g.Snapshot(ctx)

	var userID string
	if g.cfg.Identity != nil {
		userID, _, _ = g.cfg.Identity.Identity()
	}

	d := Evaluate(snap, op, EvalOptions{
		UpgradeBaseURL:   g.cfg.UpgradeURL,
		UserID:           userID,
		WarningThreshold: g.cfg.WarningThreshold,
	})

	switch {
	case !d.Allowed:
		logging.Info("Usage", "Denied %s for %s tier: %d/%d", op, d.Tier, d.Current, d.Limit)
	case d.Warning:
		logging.Debug("Usage", "Low quota for %s: %d of %d remaining", op, d.Remaining, d.Limit)
	}
	return d
}

// Snapshot returns a fresh snapshot, fetching when the cached one is
// missing or past its TTL. Concurrent callers share one fetch.
func (g *Gate) Snapshot(ctx context.Context) *Snapshot {
	g.mu.Lock()
	if s := g.snapshot; s.Fresh(g.clock.Now()) {
		g.mu.Unlock()
		return s
	}
	g.mu.Unlock()

	v, _, _ := g.group.Do("usage", func() (any, error) {
		return g.fetch(context.WithoutCancel(ctx)), nil
	})
	return v.(*Snapshot)
}

func (g *Gate) fetch(ctx context.Context) *Snapshot {
	g.mu.Lock()
	if s := g.snapshot; s.Fresh(g.clock.Now()) {
		g.mu.Unlock()
		return s
	}
	g.mu.Unlock()

	if g.cfg.Fetcher == nil {
		return DefaultSnapshot(g.clock.Now())
	}

	s, err := g.cfg.Fetcher.Fetch(ctx)
	now := g.clock.Now()
	if err != nil {
		logging.Warn("Usage", "Usage fetch failed, applying FREE limits: %v", err)
		return DefaultSnapshot(now)
	}

	s.CachedAt = now
	s.TTL = g.cfg.TTL

	g.mu.Lock()
	g.snapshot = s
	g.mu.Unlock()

	logging.Debug("Usage", "Cached usage snapshot for %s tier", s.Tier)
	return s
}

// Invalidate drops the cached snapshot, for example after sign-in or
// sign-out.
func (g *Gate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshot = nil
}
