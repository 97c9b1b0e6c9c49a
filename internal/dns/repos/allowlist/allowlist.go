// Package allowlist loads the operator's allowlist and optionally follows
// edits to it.
package allowlist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist/parsers"
)

// Load reads the allowlist at path, one entry per line, each normalized the
// same way blocklist lines are. A missing file yields an empty set.
func Load(path string, logger log.Logger) (domain.DomainSet, error) {
	set := domain.DomainSet{}
	if path == "" {
		return set, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug(map[string]any{"path": path}, "allowlist not found, starting empty")
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open allowlist: %w", err)
	}
	defer f.Close()

	if _, err := parsers.Parse(f, domain.FormatDomains, set, logger); err != nil {
		return nil, fmt.Errorf("read allowlist %s: %w", path, err)
	}
	return set, nil
}

// DefaultDebounce coalesces the burst of events an editor produces on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the allowlist whenever its file changes and hands the new
// set to publish. It watches the parent directory so atomic renames and
// symlink swaps are seen.
type Watcher struct {
	path     string
	publish  func(domain.DomainSet)
	logger   log.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

func NewWatcher(path string, publish func(domain.DomainSet), logger log.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("allowlist path is empty")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		path:     path,
		publish:  publish,
		logger:   logger,
		watcher:  fw,
		debounce: DefaultDebounce,
	}, nil
}

// Run blocks until ctx is cancelled or the underlying watcher closes.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	// stopped until the first relevant event
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isRelevant(ev) {
				continue
			}
			w.logger.Debug(map[string]any{"event": ev.String()}, "allowlist file event")
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(map[string]any{"error": err}, "allowlist watcher error")
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) isRelevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	return filepath.Clean(ev.Name) == filepath.Clean(w.path) ||
		filepath.Base(ev.Name) == filepath.Base(w.path)
}

func (w *Watcher) reload() {
	set, err := Load(w.path, w.logger)
	if err != nil {
		// keep serving the previous allowlist
		w.logger.Warn(map[string]any{"path": w.path, "error": err}, "allowlist reload failed")
		return
	}
	w.logger.Info(map[string]any{"path": w.path, "domains": set.Len()}, "allowlist reloaded")
	w.publish(set)
}
