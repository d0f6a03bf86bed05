// Package watch triggers cache synchronization when the repository's
// references change on disk.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher observes a repository's git directory and invokes a callback
// after reference updates, coalescing bursts of filesystem events.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce *debouncer
	ignore   []string
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New builds a watcher over the repository at root. ignore holds glob
// patterns (doublestar syntax) matched against event paths relative to
// the git directory. fn runs on the watcher's goroutine after the
// debounce delay elapses with no further events.
func New(root string, delay time.Duration, ignore []string, log *slog.Logger, fn func()) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	gitDir := resolveGitDir(root)
	for _, p := range watchPaths(gitDir) {
		log.Debug("watching path", "path", p)
		if err := fsw.Add(p); err != nil {
			err = errors.Join(err, fsw.Close())
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: newDebouncer(delay, fn),
		ignore:   ignore,
		log:      log,
		done:     make(chan struct{}),
	}
	go w.loop(gitDir)
	return w, nil
}

// Close stops the watcher. Pending debounced callbacks are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.debounce.stop()
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(gitDir string) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.ignored(gitDir, ev.Name) {
				continue
			}
			w.log.Debug("fsnotify event", "op", ev.Op.String(), "path", ev.Name)
			w.debounce.trigger()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) ignored(gitDir, name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".lock" {
		return true
	}
	rel, err := filepath.Rel(gitDir, name)
	if err != nil {
		rel = name
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignore {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// resolveGitDir maps a work tree to its .git directory; a bare
// repository (or an unreadable path) is watched as-is.
func resolveGitDir(root string) string {
	gitDir := filepath.Join(root, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		return gitDir
	}
	return root
}

// watchPaths lists the locations reference updates land in. fsnotify
// watches are not recursive, so refs subdirectories are added
// individually.
func watchPaths(gitDir string) []string {
	paths := []string{gitDir}
	for _, sub := range []string{"refs", "refs/heads", "refs/tags"} {
		p := filepath.Join(gitDir, filepath.FromSlash(sub))
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			paths = append(paths, p)
		}
	}
	return paths
}

type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
