package pricing

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the pricing service when the table file changes on disk.
// Events are debounced so editors that write in several syscalls trigger a
// single reload.
type Watcher struct {
	service  *Service
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher over svc's table file.
func NewWatcher(svc *Service, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		service:  svc,
		logger:   logger.With("component", "pricing.watcher"),
		debounce: 100 * time.Millisecond,
	}
}

// Watch blocks until ctx is cancelled, reloading the table after each
// write to its file. Reload failures are logged and leave the previous
// table active.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	dir := filepath.Dir(w.service.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(w.service.path)

	var timer *time.Timer
	reloads := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("pricing watcher error", "error", err)
		case <-reloads:
			if err := w.service.Reload(); err != nil {
				w.logger.Error("pricing reload failed, keeping previous table", "error", err)
				continue
			}
			w.logger.Info("pricing table reloaded", "rows", w.service.Table().Len())
		}
	}
}
