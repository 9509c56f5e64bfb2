package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the config file on change and notifies subscribers with
// the freshly parsed Config. Only the admin key and the load-balancing mode
// are read live by callers; every other field, including Host/Port and the
// Cloud Pass settings, takes effect on next restart.
type Watcher struct {
	path string

	mu       sync.RWMutex
	current  *Config
	handlers []func(*Config)

	stopCh chan struct{}
}

// NewWatcher wraps an already-loaded Config with file-change monitoring.
func NewWatcher(path string, initial *Config) *Watcher {
	return &Watcher{
		path:    path,
		current: initial,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked (with the new Config) after every
// successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Start begins watching the config file for changes, debouncing rapid
// successive writes (e.g. editors that write via rename).
func (w *Watcher) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("config: failed to create file watcher, hot-reload disabled")
		return
	}

	if err := watcher.Add(w.path); err != nil {
		log.WithError(err).WithField("path", w.path).Warn("config: failed to watch config file, hot-reload disabled")
		watcher.Close()
		return
	}
	if dir := filepath.Dir(w.path); dir != "" {
		_ = watcher.Add(dir)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		const debounceWindow = 150 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, w.reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: file watcher error")

			case <-w.stopCh:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

// Stop ends the watch goroutine.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.WithError(err).Warn("config: hot-reload failed, keeping previous configuration")
		return
	}

	w.mu.Lock()
	w.current = cfg
	handlers := append([]func(*Config){}, w.handlers...)
	w.mu.Unlock()

	log.Info("config: reloaded from disk")
	for _, h := range handlers {
		h(cfg)
	}
}
