package auth

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"notebroker/pkg/logging"
)

const (
	// DefaultWatchDebounce coalesces the create+write+rename burst of an
	// atomic save into a single reload.
	DefaultWatchDebounce = 250 * time.Millisecond

	// DefaultWatchPollInterval is used when fsnotify is unavailable.
	DefaultWatchPollInterval = 5 * time.Second
)

// WatcherConfig configures a CredentialWatcher.
type WatcherConfig struct {
	// Path is the credential file. Its directory is watched.
	Path string

	Debounce     time.Duration
	PollInterval time.Duration

	// OnChange is called after the file is created, replaced or removed.
	OnChange func()
}

// CredentialWatcher notices when another notebroker process (typically
// `notebroker auth login` or `auth logout`) rewrites the credential file, so
// a long-running MCP server picks up the change without restarting.
type CredentialWatcher struct {
	mu      sync.Mutex
	config  WatcherConfig
	running bool
	stopCh  chan struct{}

	fsWatcher *fsnotify.Watcher

	lastModTime time.Time
	lastExists  bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewCredentialWatcher creates a watcher. Call Start to begin.
func NewCredentialWatcher(config WatcherConfig) *CredentialWatcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultWatchDebounce
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWatchPollInterval
	}
	return &CredentialWatcher{config: config}
}

// WatchManager returns a watcher that reloads m on change. onSessionChange,
// if non-nil, runs after a reload that replaced or removed the session.
func WatchManager(m *Manager, path string, onSessionChange func()) *CredentialWatcher {
	return NewCredentialWatcher(WatcherConfig{
		Path: path,
		OnChange: func() {
			if m.Reload() && onSessionChange != nil {
				onSessionChange()
			}
		},
	})
}

// Start begins watching. The directory is created if needed so there is
// something to watch before the first login.
func (w *CredentialWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	dir := filepath.Dir(w.config.Path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("CredentialWatcher", "fsnotify not available, falling back to polling: %v", err)
		go w.poll()
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		logging.Warn("CredentialWatcher", "Failed to watch %s, falling back to polling: %v", dir, err)
		watcher.Close()
		go w.poll()
		return nil
	}
	w.fsWatcher = watcher

	go w.processEvents(watcher.Events, watcher.Errors)

	logging.Debug("CredentialWatcher", "Watching %s", w.config.Path)
	return nil
}

func (w *CredentialWatcher) processEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.config.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("CredentialWatcher", "Credential file event: %s", event.Op)
			w.triggerDebounced()
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Error("CredentialWatcher", err, "fsnotify error")
		}
	}
}

func (w *CredentialWatcher) poll() {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.checkChanged()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkChanged() {
				w.triggerDebounced()
			}
		}
	}
}

// checkChanged compares existence and modification time with the last look.
func (w *CredentialWatcher) checkChanged() bool {
	info, err := os.Stat(w.config.Path)
	exists := err == nil
	var mod time.Time
	if exists {
		mod = info.ModTime()
	}

	changed := exists != w.lastExists || !mod.Equal(w.lastModTime)
	w.lastExists, w.lastModTime = exists, mod
	return changed
}

func (w *CredentialWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

// Stop ends watching. It is safe to call more than once.
func (w *CredentialWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("CredentialWatcher", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}
}
