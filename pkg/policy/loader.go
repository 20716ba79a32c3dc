package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces a burst of file events into one reload.
const reloadDelay = 300 * time.Millisecond

// Loader reads policies from .rego modules and .json policy files or
// bundles, and can watch them for changes.
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads every policy file named by paths. Directories are
// walked recursively and their files loaded in path order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		files, err := policyFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			policies, err := l.LoadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
			}
			all = append(all, policies...)
		}
	}
	l.logger.Debug().Int("total", len(all)).Int("sources", len(paths)).Msg("Policies loaded from paths")
	return all, nil
}

// policyFiles returns path itself for a file, or the sorted policy files
// below it for a directory.
func policyFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && isPolicyFile(p) {
			files = append(files, p)
		}
		return err
	})
	sort.Strings(files)
	return files, err
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// LoadFile loads a .rego module as one policy named after the file, or a
// .json file holding one policy or a bundle. Policies without a severity
// default to error.
func (l *Loader) LoadFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch filepath.Ext(path) {
	case ".rego":
		policies = []Policy{{
			Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
			Description: leadingComment(string(data)),
			Rego:        string(data),
			Enabled:     true,
		}}
	case ".json":
		if policies, err = decodeJSONPolicies(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	for i := range policies {
		policies[i].Source = path
		if policies[i].Severity == "" {
			policies[i].Severity = SeverityError
		}
	}
	l.logger.Debug().Str("path", path).Int("policies", len(policies)).Msg("Policy file loaded")
	return policies, nil
}

// decodeJSONPolicies tells a bundle from a single policy by its policies
// key. Single policies are enabled unless they say otherwise.
func decodeJSONPolicies(data []byte) ([]Policy, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if _, ok := keys["policies"]; ok {
		var bundle Bundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("failed to parse policy bundle: %w", err)
		}
		return bundle.Policies, nil
	}

	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	return []Policy{p}, nil
}

// leadingComment joins the # comment lines heading a Rego module.
func leadingComment(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		text, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Watch installs a watcher on the directories of paths and returns. Each
// change to a policy file reloads every path, after reloadDelay, and hands
// the result to apply. Events are processed until ctx is done or
// StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, path := range paths {
		if err := addWatchDirs(watcher, path); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.watchLoop(ctx, watcher, func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = apply(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to reload policies")
			return
		}
		l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	})

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatchDirs watches the directory of a file path, or every directory
// below a directory path.
func addWatchDirs(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(p)
	})
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, reload func()) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDelay, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

// StopWatching closes the active watcher, if any.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
