package usage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"notebroker/internal/testing/mock"
	pkgauth "notebroker/pkg/auth"
)

type fakeFetcher struct {
	body  string
	err   error
	gate  chan struct{}
	calls atomic.Int32
	clock *mock.MockClock
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return ParseSnapshot([]byte(f.body), f.clock.Now())
}

type staticIdentity struct{ userID string }

func (s staticIdentity) Identity() (string, pkgauth.Tier, bool) {
	return s.userID, pkgauth.TierFree, s.userID != ""
}

func newTestGate(f *fakeFetcher, clock *mock.MockClock) *Gate {
	return NewGate(GateConfig{
		Fetcher:          f,
		Identity:         staticIdentity{userID: "user-123"},
		TTL:              60 * time.Second,
		UpgradeURL:       "https://notebroker.dev/upgrade",
		WarningThreshold: 0.2,
		Clock:            clock,
	})
}

func TestGate_CheckUsage(t *testing.T) {
	clock := mock.NewMockClock(wednesday)
	f := &fakeFetcher{clock: clock, body: `{"tier":"FREE","usage":{"extractionsThisWeek":3}}`}
	g := newTestGate(f, clock)

	d := g.CheckUsage(context.Background(), OpExtraction)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), d.ResetsAt)
	assert.Contains(t, d.UpgradeURL, "ref="+UserRef("user-123"))

	d = g.CheckUsage(context.Background(), OpConversion)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestGate_RefetchesOnceAfterTTL(t *testing.T) {
	clock := mock.NewMockClock(wednesday)
	f := &fakeFetcher{clock: clock, body: `{"tier":"FREE"}`}
	g := newTestGate(f, clock)

	for range 5 {
		g.CheckUsage(context.Background(), OpScoring)
	}
	assert.Equal(t, int32(1), f.calls.Load())

	clock.Advance(59 * time.Second)
	g.CheckUsage(context.Background(), OpScoring)
	assert.Equal(t, int32(1), f.calls.Load())

	clock.Advance(2 * time.Second)
	for range 5 {
		g.CheckUsage(context.Background(), OpScoring)
	}
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGate_ConcurrentCallersShareOneFetch(t *testing.T) {
	clock := mock.NewMockClock(wednesday)
	f := &fakeFetcher{clock: clock, body: `{"tier":"PRO"}`, gate: make(chan struct{})}
	g := newTestGate(f, clock)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := g.CheckUsage(context.Background(), OpExtraction)
			assert.True(t, d.Unlimited)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGate_FetchFailureUsesFreeDefault(t *testing.T) {
	clock := mock.NewMockClock(wednesday)
	f := &fakeFetcher{clock: clock, err: errors.New("connection refused")}
	g := newTestGate(f, clock)

	d := g.CheckUsage(context.Background(), OpScoring)
	assert.True(t, d.Allowed)
	assert.Equal(t, pkgauth.TierFree, d.Tier)
	assert.Equal(t, 10, d.Limit)
	assert.Equal(t, 0, d.Current)

	// The fallback is not cached; the next call tries again.
	g.CheckUsage(context.Background(), OpScoring)
	assert.Equal(t, int32(2), f.calls.Load())

	f.err = nil
	f.body = `{"tier":"PRO","usage":{"scoringThisMonth":1}}`
	d = g.CheckUsage(context.Background(), OpScoring)
	assert.Equal(t, pkgauth.TierPro, d.Tier)
	assert.Equal(t, 299, d.Remaining)
}

func TestGate_Invalidate(t *testing.T) {
	clock := mock.NewMockClock(wednesday)
	f := &fakeFetcher{clock: clock, body: `{"tier":"FREE"}`}
	g := newTestGate(f, clock)

	g.CheckUsage(context.Background(), OpExtraction)
	g.Invalidate()
	g.CheckUsage(context.Background(), OpExtraction)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGate_UnknownOperationIsNotMetered(t *testing.T) {
	clock := mock.NewMockClock(wednesday)
	g := newTestGate(&fakeFetcher{clock: clock, body: `{"tier":"FREE"}`}, clock)

	d := g.CheckUsage(context.Background(), Operation("summarize"))
	assert.True(t, d.Allowed)
	assert.True(t, d.Unlimited)
}

func TestClient_AgainstBackend(t *testing.T) {
	backend := mock.NewBackendServer(mock.BackendServerConfig{
		UsageJSON: `{"tier":"PREMIUM","usage":{"extractionsThisWeek":12,"scoringThisMonth":50}}`,
	})
	_, err := backend.Start()
	require.NoError(t, err)
	defer backend.Stop(context.Background())

	token := backend.IssueAccessToken(time.Hour)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := NewAuthenticatedClient(context.Background(), backend.UsageURL(), ts, 5*time.Second)

	s, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pkgauth.TierPro, s.Tier)
	assert.Equal(t, 12, s.Usage.ExtractionsThisWeek)
	assert.Equal(t, 50, s.Usage.ScoringThisMonth)

	bad := NewAuthenticatedClient(context.Background(), backend.UsageURL(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "forged"}), 5*time.Second)
	_, err = bad.Fetch(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
	assert.Equal(t, 401, se.StatusCode)
}
