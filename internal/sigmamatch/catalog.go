package sigmamatch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Catalog owns the loaded rule index for a directory and keeps it fresh.
// Readers always see a complete index; reloads build a new one and swap
// the pointer.
type Catalog struct {
	dir         string
	index       atomic.Pointer[Index]
	reloadDelay time.Duration
}

// NewCatalog loads and indexes the rule directory.
func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir, reloadDelay: 2 * time.Second}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Index returns the current immutable index.
func (c *Catalog) Index() *Index {
	return c.index.Load()
}

// Dir returns the catalog root directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Reload re-reads the directory and swaps in a fresh index.
func (c *Catalog) Reload() error {
	rules, err := LoadRules(c.dir)
	if err != nil {
		return err
	}
	c.index.Store(NewIndex(rules))
	return nil
}

// Watch rebuilds the index when rule files change. YAML writes are
// debounced so a bulk catalog update triggers a single reload. Blocks
// until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	err = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yml" && ext != ".yaml" {
				// new subdirectories must be watched too
				if event.Op.Has(fsnotify.Create) {
					_ = watcher.Add(event.Name)
				}
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(c.reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := c.Reload(); err != nil {
				log.Error().Err(err).Str("dir", c.dir).Msg("Sigma catalog reload failed")
				continue
			}
			log.Info().Int("rules", c.Index().Len()).Msg("Sigma catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Sigma catalog watcher error")
		}
	}
}
