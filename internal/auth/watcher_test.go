package auth

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"notebroker/internal/testing/mock"
	pkgauth "notebroker/pkg/auth"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewCredentialWatcher_Defaults(t *testing.T) {
	w := NewCredentialWatcher(WatcherConfig{Path: "/tmp/x/credentials.enc"})

	if w.config.Debounce != DefaultWatchDebounce {
		t.Errorf("Expected Debounce %v, got %v", DefaultWatchDebounce, w.config.Debounce)
	}
	if w.config.PollInterval != DefaultWatchPollInterval {
		t.Errorf("Expected PollInterval %v, got %v", DefaultWatchPollInterval, w.config.PollInterval)
	}
}

func TestCredentialWatcher_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "credentials.enc")
	w := NewCredentialWatcher(WatcherConfig{Path: path})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("Expected Start to create the directory: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	w.Stop()
	w.Stop()
}

func TestCredentialWatcher_DetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	var calls atomic.Int32
	w := NewCredentialWatcher(WatcherConfig{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnChange: func() { calls.Add(1) },
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	store := NewCredentialStore(path, "s")
	if err := store.Save(testSession()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 1 }) {
		t.Fatal("Expected OnChange after save")
	}

	before := calls.Load()
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return calls.Load() > before }) {
		t.Fatal("Expected OnChange after removal")
	}
}

func TestCredentialWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	var calls atomic.Int32
	w := NewCredentialWatcher(WatcherConfig{
		Path:     path,
		Debounce: 10 * time.Millisecond,
		OnChange: func() { calls.Add(1) },
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("x: 1"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("Expected no OnChange for unrelated files, got %d", n)
	}
}

func TestCredentialWatcher_PollDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	w := NewCredentialWatcher(WatcherConfig{Path: path})

	if w.checkChanged() {
		t.Error("First look at a missing file should not count as a change")
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if !w.checkChanged() {
		t.Error("Expected creation to be detected")
	}
	if w.checkChanged() {
		t.Error("Expected no change on an unchanged file")
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !w.checkChanged() {
		t.Error("Expected removal to be detected")
	}
}

func TestWatchManager_ReloadsSession(t *testing.T) {
	clock := mock.NewMockClock(time.Now())
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store := NewCredentialStore(path, "s")

	m := newTestManager(t, store, &fakeExchanger{clock: clock}, clock)
	var changes atomic.Int32
	w := WatchManager(m, path, func() { changes.Add(1) })
	w.config.Debounce = 20 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// Another process logs in.
	other := NewCredentialStore(path, "s")
	if err := other.Save(sessionExpiringIn(clock, 7*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		return m.GetStatus().State == pkgauth.StateAuthenticated
	}) {
		t.Fatal("Expected manager to pick up the new session")
	}
	if !waitFor(t, 2*time.Second, func() bool { return changes.Load() == 1 }) {
		t.Fatalf("Expected one session change callback, got %d", changes.Load())
	}

	// Another process signs out.
	if err := other.Clear(); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return changes.Load() == 2 }) {
		t.Fatalf("Expected a callback for the removed session, got %d", changes.Load())
	}
	if m.GetStatus().Authenticated {
		t.Error("Expected the manager to be signed out")
	}
}

func TestWatchManager_UnchangedSessionSkipsCallback(t *testing.T) {
	clock := mock.NewMockClock(time.Now())
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store := NewCredentialStore(path, "s")
	if err := store.Save(sessionExpiringIn(clock, 7*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, store, &fakeExchanger{clock: clock}, clock)
	m.Reload()

	called := false
	w := WatchManager(m, path, func() { called = true })
	w.config.OnChange()
	if called {
		t.Error("Expected no callback when the stored session is unchanged")
	}
}
