// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch indexes GRIB files of a source as they arrive.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
	"github.com/gribscan/gribscan-harmonie/pkg/loader"
	"github.com/gribscan/gribscan-harmonie/pkg/source"
)

// Indexer writes the index of one GRIB file. The indexer given to a Watcher
// should rewrite stale indexes, since files are often written in pieces.
type Indexer interface {
	IndexFile(ctx context.Context, gribPath string) (string, error)
}

// Options configure a Watcher.
type Options struct {
	// Debounce is how long a file must stay quiet before it is indexed.
	Debounce time.Duration
	Logger   *slog.Logger
	// OnIndexed is called after a file was indexed.
	OnIndexed func(gribPath, indexPath string)
	// OnError is called when indexing a file failed.
	OnError func(gribPath string, err error)
}

// Stats counts watcher activity.
type Stats struct {
	Events  int
	Indexed int
	Errors  int
}

// Watcher watches the directory tree of a template source.
type Watcher struct {
	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	src     *source.TemplateSource
	ix      Indexer
	opts    Options
	pending map[string]time.Time
	stats   Stats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New returns a watcher for src. Call Start to begin watching.
func New(src *source.TemplateSource, ix Indexer, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(errors.CodeIO, "creating file watcher", err)
	}
	return &Watcher{
		fsw:     fsw,
		src:     src,
		ix:      ix,
		opts:    opts,
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start watches the source root and its subdirectories. Files already present
// are not indexed; use the indexer for those.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	root := w.src.Root()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return errors.Newf(errors.CodeNotFound, "source root %s is not a directory", root).
			WithContext("source", w.src.Name())
	}
	if err := w.addTree(ctx, root, false); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.opts.Logger.InfoContext(ctx, "watching source", "source", w.src.Name(), "root", root, "debounce", w.opts.Debounce)

	go w.run(ctx)
	return nil
}

// Stop stops watching and waits for a running indexing pass to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		w.opts.Logger.Warn("closing file watcher", "error", err)
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tick(w.opts.Debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.opts.Logger.WarnContext(ctx, "file watcher error", "error", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.indexSettled(ctx)
		}
	}
}

func tick(debounce time.Duration) time.Duration {
	d := debounce / 4
	if d < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	if d > 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// files may land before the directory is watched
			if err := w.addTree(ctx, event.Name, true); err != nil {
				w.opts.Logger.WarnContext(ctx, "watching new directory failed", "dir", event.Name, "error", err)
			}
			return
		}
	}
	w.enqueue(event.Name)
}

func (w *Watcher) enqueue(path string) {
	if ignored(path) || !w.src.Match(path) {
		return
	}
	w.mu.Lock()
	w.stats.Events++
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, gribindex.Suffix) ||
		strings.Contains(base, loader.StoreSuffix)
}

// addTree watches dir and every directory below it. With enqueue set, files
// found on the way are queued for indexing.
func (w *Watcher) addTree(ctx context.Context, dir string, enqueue bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.New(errors.CodeIO, "walking source directory", err).WithContext("path", path)
		}
		if !d.IsDir() {
			if enqueue {
				w.enqueue(path)
			}
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return errors.New(errors.CodeIO, "watching directory", err).WithContext("path", path)
		}
		w.opts.Logger.DebugContext(ctx, "watching directory", "dir", path)
		return nil
	})
}

func (w *Watcher) indexSettled(ctx context.Context) {
	now := time.Now()
	var due []string
	w.mu.Lock()
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.opts.Debounce {
			due = append(due, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(path); err != nil {
			w.opts.Logger.DebugContext(ctx, "file vanished before indexing", "file", path)
			continue
		}
		index, err := w.ix.IndexFile(ctx, path)
		w.mu.Lock()
		if err != nil {
			w.stats.Errors++
		} else {
			w.stats.Indexed++
		}
		w.mu.Unlock()

		if err != nil {
			w.opts.Logger.WarnContext(ctx, "indexing failed", "file", path, "error", err)
			if w.opts.OnError != nil {
				w.opts.OnError(path, err)
			}
			continue
		}
		w.opts.Logger.InfoContext(ctx, "indexed new file", "file", path, "index", index)
		if w.opts.OnIndexed != nil {
			w.opts.OnIndexed(path, index)
		}
	}
}
