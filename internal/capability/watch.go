package capability

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/oriolane/oriole/internal/observability"
)

// Watcher hot-reloads the capability catalog when its file changes and swaps
// the registry snapshot atomically. Readers call Current and always see a
// complete catalog; a failed reload keeps the previous snapshot.
type Watcher struct {
	path    string
	current atomic.Pointer[Registry]
	logger  *slog.Logger
	fw      *fsnotify.Watcher
}

// NewWatcher loads the catalog once and starts watching its path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	reg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, logger: logger, fw: fw}
	w.current.Store(reg)
	return w, nil
}

// Current returns the latest registry snapshot.
func (w *Watcher) Current() *Registry {
	return w.current.Load()
}

// Run processes filesystem events until ctx is done. Call in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			reg, err := LoadFile(w.path)
			if err != nil {
				w.logger.Warn("capability catalog reload failed, keeping previous snapshot",
					"path", w.path, "error", err)
				continue
			}
			w.current.Store(reg)
			w.logger.Info("capability catalog reloaded",
				"path", w.path, "capabilities", len(reg.order))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("capability watcher error", "error", err)
		}
	}
}
