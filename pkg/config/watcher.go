package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// DefaultDebounce groups the bursts of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// ChangeFunc receives a reloaded document, or the error loading it.
type ChangeFunc func(path string, doc *engine.Document, err error)

// Watcher reloads rule documents when their files change.
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher reloading through loader.
func NewWatcher(loader *Loader, logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   loader,
		logger:   logger.With().Str("component", "watcher").Logger(),
		debounce: debounce,
	}
}

// Watch blocks until ctx is done, calling fn after each change to a watched
// document. Paths may be files or directories; directories watch every
// document file directly inside them. Parent directories are watched so
// files replaced by rename are picked up.
func (w *Watcher) Watch(ctx context.Context, paths []string, fn ChangeFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to stat path for watching: %w", err)
		}
		dir := abs
		if !info.IsDir() {
			files[abs] = true
			dir = filepath.Dir(abs)
		} else {
			dirs[abs] = true
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	watched := func(name string) bool {
		if files[name] {
			return true
		}
		return dirs[filepath.Dir(name)] && IsDocumentFile(name)
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		wg     sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	w.logger.Info().Int("paths", len(paths)).Msg("Started watching rule documents")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !watched(event.Name) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Document changed")

			name := event.Name
			mu.Lock()
			if t, ok := timers[name]; ok && t.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timers[name] = time.AfterFunc(w.debounce, func() {
				defer wg.Done()
				mu.Lock()
				delete(timers, name)
				mu.Unlock()
				w.reload(ctx, name, fn)
			})
			mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string, fn ChangeFunc) {
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// renamed away; the replacement triggers its own event
		return
	}
	doc, err := w.loader.LoadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("file", path).Msg("Failed to reload document")
	} else {
		w.logger.Info().Str("file", path).Msg("Document reloaded")
	}
	fn(path, doc, err)
}
