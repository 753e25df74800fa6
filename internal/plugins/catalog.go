package plugins

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDelay = 250 * time.Millisecond

// Catalog caches the discovered manifests and reloads them when anything
// under the plugins directory changes.
type Catalog struct {
	root   string
	logger zerolog.Logger

	mu        sync.RWMutex
	manifests []Manifest
	onChange  func([]Manifest)
}

// NewCatalog loads the manifests under root once.
func NewCatalog(root string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		root:   root,
		logger: logger.With().Str("component", "plugins").Logger(),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Manifests returns the cached manifests.
func (c *Catalog) Manifests() []Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Manifest, len(c.manifests))
	copy(out, c.manifests)
	return out
}

// Get returns the cached manifest with the given id.
func (c *Catalog) Get(id string) (Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.manifests {
		if m.ID == id {
			return m, true
		}
	}
	return Manifest{}, false
}

// OnChange registers fn to run after every reload triggered by Watch.
func (c *Catalog) OnChange(fn func([]Manifest)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Reload rescans the plugins directory.
func (c *Catalog) Reload() error {
	found, err := Discover(c.root, c.logger)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.manifests = found
	c.mu.Unlock()
	return nil
}

// Watch starts reloading on file system changes until ctx is done. A
// missing plugins directory is not watched.
func (c *Catalog) Watch(ctx context.Context) error {
	if _, err := os.Stat(c.root); os.IsNotExist(err) {
		c.logger.Info().Str("dir", c.root).Msg("plugins dir missing, not watching")
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := c.addDirs(w); err != nil {
		w.Close()
		return err
	}

	go c.loop(ctx, w)
	return nil
}

// addDirs watches root and its direct subdirectories.
func (c *Catalog) addDirs(w *fsnotify.Watcher) error {
	if err := w.Add(c.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(c.root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Catalog) loop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	timer := time.NewTimer(reloadDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == c.root {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			timer.Reset(reloadDelay)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("plugins watcher error")

		case <-timer.C:
			if err := c.Reload(); err != nil {
				c.logger.Warn().Err(err).Msg("plugins reload failed")
				continue
			}
			c.mu.RLock()
			fn := c.onChange
			c.mu.RUnlock()
			found := c.Manifests()
			c.logger.Info().Int("plugins", len(found)).Msg("plugins reloaded")
			if fn != nil {
				fn(found)
			}
		}
	}
}
