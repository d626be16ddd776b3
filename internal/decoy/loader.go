package decoy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/snarelabs/snare/internal/logging"
)

const reloadDebounce = 100 * time.Millisecond

// Loader loads a decoy table override from disk into a Registry and keeps
// it current as the file changes. A bad edit never replaces a good table:
// the new file is parsed and validated first, and failures only log.
type Loader struct {
	path     string
	registry *Registry
	watcher  *fsnotify.Watcher
}

// NewLoader wires a file override for registry. Load must be called before
// Watch.
func NewLoader(path string, registry *Registry) *Loader {
	return &Loader{path: path, registry: registry}
}

// Load reads and applies the table file. A missing file leaves the embedded
// defaults in place.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read decoy table: %w", err)
	}
	t, err := parseTable(string(data))
	if err != nil {
		return err
	}
	l.registry.swap(t)
	return nil
}

// Watch reloads the registry whenever the table file is rewritten. Runs
// until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	// Watch the directory, not the file: editors replace files on save and
	// the watch would die with the old inode.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch decoy table dir: %w", err)
	}

	go l.watchLoop(ctx)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer func() { _ = l.watcher.Close() }()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := l.Load(); err != nil {
					logging.L(ctx).Warn("decoy table reload rejected",
						"path", l.path, "error", err)
					return
				}
				logging.L(ctx).Info("decoy table reloaded",
					"path", l.path, "resources", l.registry.Len())
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.L(ctx).Warn("decoy table watcher error", "error", err)
		}
	}
}
