// Package watcher keeps the index in step with watched directories: files that are
// created or changed are ingested after a quiet period, removed files are deleted.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives file changes.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*models.IngestResult, error)
	DeleteFile(ctx context.Context, path string) (int, error)
}

// Watcher watches directory trees and forwards file changes to a Sink.
type Watcher struct {
	roots       []string
	extensions  []string
	recursive   bool
	sink        Sink
	debounce    time.Duration
	syncAtStart bool

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
	logger   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a changed file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithoutInitialSync skips ingesting files already present when Start runs.
func WithoutInitialSync() Option {
	return func(w *Watcher) { w.syncAtStart = false }
}

// New creates a watcher over roots. extensions filters which files are forwarded;
// empty forwards every file.
func New(roots, extensions []string, recursive bool, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		extensions:  extensions,
		recursive:   recursive,
		sink:        sink,
		debounce:    defaultDebounce,
		syncAtStart: true,
		pending:     make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, root := range roots {
		if abs, err := filepath.Abs(root); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching. Missing roots are created. Existing files are ingested in
// the background unless WithoutInitialSync was given. Watching ends when ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.addTreeLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("watching directories",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))

	go w.run(ctx, fsw)
	if w.syncAtStart {
		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			for _, root := range w.roots {
				w.syncDirectory(root)
			}
		}()
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("file event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if w.matchExtension(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.matchExtension(path) {
			w.remove(path)
		}
	}
}

// handleNewDirectory watches a directory created under a root and ingests its files.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	err := w.addTreeLocked(dir)
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
		return
	}
	w.syncDirectory(dir)
}

func (w *Watcher) addTreeLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) underRoot(path string) bool {
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			if !w.recursive && filepath.Dir(path) != root {
				continue
			}
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule ingests path once no further events arrive for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		started := w.started
		if started {
			w.inflight.Add(1)
		}
		w.mu.Unlock()
		if !started {
			return
		}
		defer w.inflight.Done()
		w.ingest(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(path string) {
	res, err := w.sink.IngestFile(w.ctx, path)
	if err != nil {
		if ragerrors.KindOf(err) == ragerrors.KindValidation {
			w.logger.Debug("skipping file", zap.String("path", path), zap.Error(err))
			return
		}
		w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("file ingested", zap.String("path", path), zap.String("document_id", res.DocumentID),
		zap.Int("fragments", res.Fragments))
}

func (w *Watcher) remove(path string) {
	n, err := w.sink.DeleteFile(w.ctx, path)
	if err != nil {
		w.logger.Warn("failed to delete file document", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("file removed", zap.String("path", path), zap.Int("fragments", n))
}

func (w *Watcher) syncDirectory(root string) {
	w.logger.Debug("syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ctx.Err() != nil {
			return filepath.SkipAll
		}
		if w.matchExtension(path) {
			w.ingest(path)
		}
		return nil
	})
}

// Directories returns the watched root directories.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Stop stops watching, cancels pending ingests and waits for running ones to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
