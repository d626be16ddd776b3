package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/snarelabs/snare/internal/logging"
)

const reloadDebounce = 100 * time.Millisecond

// Loader loads a signature table override from disk into a Matcher and keeps
// it current as the file changes. A bad edit never replaces a good table:
// the new file is parsed and validated first, and failures only log.
type Loader struct {
	path    string
	matcher *Matcher
	watcher *fsnotify.Watcher
}

// NewLoader wires a file override for matcher. Load must be called before
// Watch.
func NewLoader(path string, matcher *Matcher) *Loader {
	return &Loader{path: path, matcher: matcher}
}

// Load reads and applies the table file. A missing file leaves the built-in
// defaults in place.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read toolkit table: %w", err)
	}
	t, err := parseTable(string(data))
	if err != nil {
		return err
	}
	l.matcher.swap(t)
	return nil
}

// Watch reloads the matcher whenever the table file is rewritten. Runs
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
		return fmt.Errorf("watch toolkit table dir: %w", err)
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
					logging.L(ctx).Warn("toolkit table reload rejected",
						"path", l.path, "error", err)
					return
				}
				logging.L(ctx).Info("toolkit table reloaded",
					"path", l.path, "signatures", l.matcher.Len())
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.L(ctx).Warn("toolkit table watcher error", "error", err)
		}
	}
}

func parseTable(raw string) (*Table, error) {
	var t Table
	if _, err := toml.Decode(raw, &t); err != nil {
		return nil, fmt.Errorf("decode toolkit table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}
