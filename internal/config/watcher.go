package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the freshly loaded config after a live reload.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk and fans the
// new snapshot out to registered handlers. The parent directory is
// watched rather than the file itself, so atomic renames from editors
// and config management still trigger a reload. A reload that fails
// ValidateTuning never reaches handlers: running engines keep their
// last good tuning.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	handlers []ChangeHandler

	stop chan struct{}
	done chan struct{}
}

// NewWatcher prepares a watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		fs:       fs,
		debounce: 300 * time.Millisecond,
	}, nil
}

// OnChange registers a handler. Handlers run on the watcher goroutine
// after every accepted reload, in registration order.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

// Start begins watching. Stop releases the inotify descriptor.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop()
	slog.Info("config watcher started", "path", w.path)
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.stop == nil {
		w.fs.Close()
		return
	}
	close(w.stop)
	w.fs.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	// The timer starts drained; each relevant event re-arms it so a
	// burst of writes collapses into one reload.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return

		case <-timer.C:
			w.reload()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config reload failed", "path", w.path, "error", err)
		return
	}
	if err := cfg.ValidateTuning(); err != nil {
		slog.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()
	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("config reloaded", "path", w.path)
}
