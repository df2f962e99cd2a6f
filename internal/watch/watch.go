// Package watch reports step-file changes in a set of directories.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/msageha/des/internal/logging"
)

// Handler is called with the path of each created or written step file.
type Handler func(path string)

type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// New watches dirs (non-recursively).
func New(dirs []string, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return &Watcher{watcher: w, logger: logging.OrNop(logger)}, nil
}

// Run dispatches events to handle until ctx is done or the watcher closes.
// Calls to handle are sequential.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !IsStepFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("step file changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
				handle(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

// IsStepFile accepts *.json names that are not temp or backup files.
func IsStepFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return filepath.Ext(base) == ".json"
}
