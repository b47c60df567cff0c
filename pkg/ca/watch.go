package ca

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval coalesces bursts of events from editors and
// atomic renames.
const DefaultDebounceInterval = 200 * time.Millisecond

// Watcher reports changes to the persisted root files. The in-memory RootCA
// is never swapped; a change only means the files on disk no longer match
// what this process serves until restart.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	files    map[string]struct{}
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]fsnotify.Op
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher watches the directories holding certFile and keyFile.
// Directories are watched rather than the files so replacement by rename
// is observed.
func NewWatcher(certFile, keyFile string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		logger:   logger,
		files:    make(map[string]struct{}),
		interval: DefaultDebounceInterval,
		pending:  make(map[string]fsnotify.Op),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	dirs := make(map[string]struct{})
	for _, f := range []string{certFile, keyFile} {
		abs, err := filepath.Abs(f)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return w, nil
}

// Watch blocks until ctx is done or Stop is called, invoking onChange once
// per debounced burst with the affected paths and their combined ops.
func (w *Watcher) Watch(ctx context.Context, onChange func(changes map[string]fsnotify.Op)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := w.files[path]; !ok {
				continue
			}
			w.schedule(path, event.Op, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("CA file watcher error", "error", err)
		}
	}
}

// schedule records an event and (re)arms the debounce timer.
func (w *Watcher) schedule(path string, op fsnotify.Op, onChange func(map[string]fsnotify.Op)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] |= op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, func() {
		w.mu.Lock()
		changes := w.pending
		w.pending = make(map[string]fsnotify.Op)
		w.mu.Unlock()

		select {
		case <-w.stopCh:
			return
		default:
		}
		if len(changes) > 0 {
			onChange(changes)
		}
	})
}

// Stop ends Watch and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		return nil
	default:
		close(w.stopCh)
	}
	if running {
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// WarnOnChange returns an onChange callback that logs each change against
// the root currently being served.
func WarnOnChange(logger *slog.Logger, root *RootCA) func(map[string]fsnotify.Op) {
	return func(changes map[string]fsnotify.Op) {
		for path, op := range changes {
			logger.Warn("persisted root CA changed on disk; the running proxy keeps serving the loaded root until restart",
				"path", path,
				"op", op.String(),
				"serving_serial", root.Certificate.SerialNumber.String(),
			)
		}
	}
}
