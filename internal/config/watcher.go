package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ReloadFunc is invoked with the raw file contents after a watched file
// changes on disk. A returned error keeps the previous state in effect.
type ReloadFunc func(data []byte) error

// Watcher hot-reloads auxiliary yaml files (expansion vocab, routing signals)
// without restarting the service. The main askd.yaml is not hot-reloaded;
// structural config changes take a restart.
type Watcher struct {
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	handlers map[string]ReloadFunc // absolute path -> handler
	debounce map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a file watcher. Call Watch to register files, then Start.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		logger:   logger,
		watcher:  fw,
		handlers: make(map[string]ReloadFunc),
		debounce: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch registers a file and its reload handler, and invokes the handler once
// with the current contents so callers start from the on-disk state.
func (w *Watcher) Watch(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", abs, err)
	}
	if err := fn(data); err != nil {
		return fmt.Errorf("initial load of %s: %w", abs, err)
	}

	// Watch the directory; editors replace files rather than write in place
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}

	w.mu.Lock()
	w.handlers[abs] = fn
	w.mu.Unlock()
	return nil
}

// Start runs the event loop until Stop is called.
func (w *Watcher) Start() {
	go func() {
		defer close(w.doneCh)
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.handleEvent(ev.Name)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("File watcher error", zap.Error(err))
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *Watcher) handleEvent(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	fn, ok := w.handlers[abs]
	if ok {
		// Editors fire bursts of events per save
		if last, seen := w.debounce[abs]; seen && time.Since(last) < 200*time.Millisecond {
			ok = false
		} else {
			w.debounce[abs] = time.Now()
		}
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		w.logger.Warn("Reload skipped, file unreadable", zap.String("path", abs), zap.Error(err))
		return
	}
	if err := fn(data); err != nil {
		w.logger.Warn("Reload rejected, keeping previous state", zap.String("path", abs), zap.Error(err))
		return
	}
	w.logger.Info("Reloaded configuration file", zap.String("path", abs))
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}

// ParseYAML is a helper for reload handlers that unmarshal into a struct.
func ParseYAML(data []byte, out interface{}) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}
