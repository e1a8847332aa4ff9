// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package watch reports changes to package directories under a root.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// DefaultDebounce is how long a package must stay quiet before its change
// is reported.
const DefaultDebounce = 250 * time.Millisecond

// Change names a package directory whose contents changed, appeared or
// disappeared.
type Change struct {
	Dir string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher watches a packages root and every directory below it.
//
// Bursts of filesystem events are coalesced per package directory so a
// package being copied into place is reported once.
type Watcher struct {
	root     string
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	changes chan Change
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New starts watching root, which must be an existing directory.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, oops.In("watch").With("root", root).Wrap(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, oops.In("watch").With("root", abs).Wrap(err)
	}
	if !info.IsDir() {
		return nil, oops.In("watch").With("root", abs).Errorf("%s is not a directory", abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, oops.In("watch").Wrapf(err, "create watcher")
	}

	w := &Watcher{
		root:     abs,
		fs:       fsw,
		debounce: DefaultDebounce,
		changes:  make(chan Change, 16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Root returns the absolute path being watched.
func (w *Watcher) Root() string {
	return w.root
}

// Changes delivers debounced package changes. It is closed by Close.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Close stops watching. Pending changes are dropped. Close is idempotent.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fs.Close()
		w.wg.Wait()
		close(w.changes)
	})
	if w.closeErr != nil {
		return oops.In("watch").Wrap(w.closeErr)
	}
	return nil
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished while walking.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return oops.In("watch").With("dir", path).Wrapf(err, "watch directory")
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			dir := w.packageDir(event.Name)
			if dir == "" {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
				}
			}
			pending[dir] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("package watcher error", "root", w.root, "error", err)

		case <-timer.C:
			dirs := make([]string, 0, len(pending))
			for dir := range pending {
				dirs = append(dirs, dir)
			}
			clear(pending)
			slices.Sort(dirs)
			for _, dir := range dirs {
				select {
				case w.changes <- Change{Dir: dir}:
				case <-w.done:
					return
				}
			}
		}
	}
}

// packageDir maps a path below root to the package directory holding it.
// Paths that are not inside a visible package directory map to "".
func (w *Watcher) packageDir(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return ""
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	if hidden(first) {
		return ""
	}
	return filepath.Join(w.root, first)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
