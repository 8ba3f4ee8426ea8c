// Package dirboard provides a clipboard backend stored in a directory.
//
// The directory holds up to two files:
//
//	text      UTF-8 clipboard text
//	uri-list  one file location per line (text/uri-list; '#' lines ignored)
//
// Edits to either file are picked up through fsnotify. A poll interval may be
// configured as a fallback for filesystems that do not deliver events.
package dirboard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pithecene-io/cliprdr/backend"
	"github.com/pithecene-io/cliprdr/log"
)

// File names inside the board directory.
const (
	TextFile    = "text"
	URIListFile = "uri-list"
)

// Config configures a directory board.
type Config struct {
	// Dir is the board directory. It is created if missing.
	Dir string
	// Poll enables a periodic rescan in addition to fsnotify events.
	Poll time.Duration
	// Logger receives watcher errors. Nil discards them.
	Logger *log.Logger
}

// Board is a directory-backed clipboard.
type Board struct {
	dir     string
	logger  *log.Logger
	watcher *fsnotify.Watcher
	changes chan struct{}

	mu     sync.Mutex
	last   backend.Content
	closed bool

	stop chan struct{}
	done chan struct{}
}

var _ backend.Backend = (*Board)(nil)

// Open creates the directory if needed and starts watching it.
func Open(cfg Config) (*Board, error) {
	if cfg.Dir == "" {
		return nil, errors.New("dirboard: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("dirboard: create %s: %w", cfg.Dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dirboard: start watcher: %w", err)
	}
	if err := watcher.Add(cfg.Dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("dirboard: watch %s: %w", cfg.Dir, err)
	}

	b := &Board{
		dir:     cfg.Dir,
		logger:  cfg.Logger,
		watcher: watcher,
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// Whatever is on disk at startup is the baseline, not a change.
	if b.last, err = b.load(); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go b.watch(cfg.Poll)
	return b, nil
}

// Name returns "dir".
func (b *Board) Name() string { return "dir" }

// Dir returns the board directory.
func (b *Board) Dir() string { return b.dir }

// Read loads the current content from disk.
func (b *Board) Read(ctx context.Context) (backend.Content, error) {
	if err := ctx.Err(); err != nil {
		return backend.Content{}, err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return backend.Content{}, backend.ErrClosed
	}
	return b.load()
}

// Write replaces both files. The written content becomes the baseline so the
// resulting fsnotify events are not reported as local changes.
func (b *Board) Write(ctx context.Context, c backend.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}

	b.last = c.Clone()
	if c.HasText {
		if err := writeAtomic(b.path(TextFile), []byte(c.Text)); err != nil {
			return err
		}
	} else if err := removeIfExists(b.path(TextFile)); err != nil {
		return err
	}

	if len(c.Files) > 0 {
		if err := writeAtomic(b.path(URIListFile), []byte(strings.Join(c.Files, "\n")+"\n")); err != nil {
			return err
		}
	} else if err := removeIfExists(b.path(URIListFile)); err != nil {
		return err
	}
	return nil
}

// Changes returns the change signal channel.
func (b *Board) Changes() <-chan struct{} { return b.changes }

// Close stops the watcher. It is idempotent.
func (b *Board) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	err := b.watcher.Close()
	<-b.done
	return err
}

func (b *Board) watch(poll time.Duration) {
	defer close(b.done)

	var tick <-chan time.Time
	if poll > 0 {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-b.stop:
			return
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if name != TextFile && name != URIListFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			b.rescan()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("dirboard watcher error", map[string]any{"dir": b.dir, "error": err.Error()})
		case <-tick:
			b.rescan()
		}
	}
}

// rescan compares disk content against the baseline and signals on change.
// The lock is held across the load so a concurrent Write is seen whole.
func (b *Board) rescan() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	current, err := b.load()
	if err != nil {
		b.logger.Warn("dirboard rescan failed", map[string]any{"dir": b.dir, "error": err.Error()})
		return
	}
	if current.Equal(b.last) {
		return
	}
	b.last = current
	backend.Notify(b.changes)
}

func (b *Board) load() (backend.Content, error) {
	var c backend.Content

	text, err := os.ReadFile(b.path(TextFile))
	switch {
	case err == nil:
		c.Text = string(text)
		c.HasText = true
	case !errors.Is(err, fs.ErrNotExist):
		return c, fmt.Errorf("dirboard: read text: %w", err)
	}

	f, err := os.Open(b.path(URIListFile))
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("dirboard: open uri list: %w", err)
	}
	defer func() { _ = f.Close() }()

	files, err := parseURIList(bufio.NewScanner(f))
	if err != nil {
		return c, fmt.Errorf("dirboard: read uri list: %w", err)
	}
	c.Files = files
	return c, nil
}

func (b *Board) path(name string) string {
	return filepath.Join(b.dir, name)
}

// parseURIList reads text/uri-list lines. file:// URIs are reduced to their
// path; other lines are taken as plain locations.
func parseURIList(sc *bufio.Scanner) ([]string, error) {
	var files []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "file://") {
			u, err := url.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("invalid uri %q: %w", line, err)
			}
			line = u.Path
		}
		files = append(files, line)
	}
	return files, sc.Err()
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("dirboard: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("dirboard: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("dirboard: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("dirboard: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("dirboard: remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
