package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hollowmark/avrbridge/internal/consoleio"
	"github.com/hollowmark/avrbridge/internal/device/builtin"
)

// Registry is a concurrency-safe lookup of device descriptors, seeded from
// the built-in set and optionally overlaid by JSON files in a watched
// directory. Reloading a directory never removes a built-in descriptor;
// it can only add new names or shadow existing ones.
type Registry struct {
	log *consoleio.Logger

	mu      sync.RWMutex
	parts   map[string]Descriptor
	watcher *fsnotify.Watcher
}

// NewRegistry loads the built-in descriptors. Call WatchDir to also layer
// in user-supplied descriptors from a directory.
func NewRegistry(log *consoleio.Logger) (*Registry, error) {
	seed, err := builtin.Load()
	if err != nil {
		return nil, fmt.Errorf("device: load builtin descriptors: %w", err)
	}

	return &Registry{log: log, parts: seed}, nil
}

// Lookup returns the descriptor for name, if known.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.parts[name]

	return d, ok
}

// WatchDir loads every *.json file in dir into the registry and keeps
// watching it for additions and edits via fsnotify, so a running bridge can
// pick up a new device descriptor without a restart. It returns immediately
// after the initial load; watching continues until the registry's Close.
func (r *Registry) WatchDir(dir string) error {
	if err := r.loadDir(dir); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("device: create watcher: %w", err)
	}

	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("device: watch %s: %w", dir, err)
	}

	r.watcher = w

	go r.watchLoop(dir)

	return nil
}

func (r *Registry) watchLoop(dir string) {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if filepath.Ext(ev.Name) != ".json" {
				continue
			}

			if err := r.loadFile(ev.Name); err != nil {
				r.log.Warn("device: reload %s: %v", ev.Name, err)
				continue
			}

			r.log.Info("device: reloaded descriptor from %s", ev.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}

			r.log.Warn("device: watcher error: %v", err)
		}
	}
}

func (r *Registry) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("device: read %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		if err := r.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func (r *Registry) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("device: read %s: %w", path, err)
	}

	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("device: parse %s: %w", path, err)
	}

	if d.Name == "" {
		return fmt.Errorf("device: %s missing \"name\"", path)
	}

	r.mu.Lock()
	r.parts[d.Name] = d
	r.mu.Unlock()

	return nil
}

// Close stops the directory watcher, if one is active.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}

	return r.watcher.Close()
}
