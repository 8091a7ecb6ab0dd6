// Package watchdog announces new crash and hang samples as fuzzer
// instances write them, so the campaign log shows findings live instead of
// only after teardown.
package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"bugbane/internal/types"
)

// FindingWatcher observes per-instance crash and hang directories and
// sends a FindingMessage for every sample file created in them.
type FindingWatcher struct {
	notifyChan chan<- types.FindingMessage
	logger     *zap.Logger
	watcher    *fsnotify.Watcher

	// directory path -> what kind of finding it collects; written by
	// AddDir from the poll loop, read by the watch goroutine
	mu    sync.Mutex
	kinds map[string]dirInfo
}

type dirInfo struct {
	kind     types.FindingKind
	instance string
}

// NewFindingWatcher starts watching; it owns notifyChan and closes it when
// ctx is done.
func NewFindingWatcher(ctx context.Context, notifyChan chan<- types.FindingMessage, logger *zap.Logger) (*FindingWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FindingWatcher{
		notifyChan: notifyChan,
		logger:     logger,
		watcher:    watcher,
		kinds:      make(map[string]dirInfo),
	}
	go w.watch(ctx)
	return w, nil
}

// AddDir registers one collection directory of a fuzzer instance. The
// directory must exist; fuzzers create them lazily, so callers poll for
// appearance before registering.
func (w *FindingWatcher) AddDir(dir, instance string, kind types.FindingKind) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		w.logger.Error("failed to resolve watch directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	if _, err := os.Stat(absDir); err != nil {
		w.logger.Error("watch directory does not exist", zap.String("dir", absDir), zap.Error(err))
		return
	}
	if err := w.watcher.Add(absDir); err != nil {
		w.logger.Error("failed to watch directory", zap.String("dir", absDir), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.kinds[absDir] = dirInfo{kind: kind, instance: instance}
	w.mu.Unlock()
	w.logger.Debug("watching finding directory",
		zap.String("dir", absDir), zap.String("instance", instance), zap.Stringer("kind", kind))
}

func (w *FindingWatcher) watch(ctx context.Context) {
	defer w.watcher.Close()
	defer close(w.notifyChan)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *FindingWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != fsnotify.Create {
		return
	}
	if !isSample(event.Name) {
		return
	}
	w.mu.Lock()
	info, ok := w.kinds[filepath.Dir(event.Name)]
	w.mu.Unlock()
	if !ok {
		return
	}
	w.notifyChan <- types.FindingMessage{
		Kind:     info.kind,
		Path:     event.Name,
		Instance: info.instance,
	}
}

// isSample filters out the bookkeeping files fuzzers keep next to their
// findings.
func isSample(path string) bool {
	base := filepath.Base(path)
	switch {
	case base == "README.txt":
		return false
	case strings.HasSuffix(base, ".output") || strings.HasSuffix(base, ".quoted"):
		return false
	case strings.HasPrefix(base, "."):
		return false
	}
	return true
}
