package provision

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/hushtype/hushtype/pkg/events"
)

// WatchCache observes the model cache for changes made outside the app
// (manual installs, deletions) and emits model.catalog.changed events so the
// UI can refresh its installed-model list. Blocks until ctx is cancelled.
func (p *Provisioner) WatchCache(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	modelsRoot := filepath.Join(p.cacheRoot, "models")
	if err := os.MkdirAll(modelsRoot, 0o755); err != nil {
		return err
	}
	if err := w.Add(modelsRoot); err != nil {
		return err
	}
	// fsnotify is not recursive; watch each existing family/model level too.
	_ = filepath.WalkDir(modelsRoot, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = w.Add(path)
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// In-flight download noise is not a catalog change.
			if strings.HasSuffix(ev.Name, ".tmp") || strings.HasSuffix(ev.Name, ".meta") {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				rel, _ := filepath.Rel(modelsRoot, ev.Name)
				family := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
				p.log.Debug("model cache changed",
					slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				p.emit(events.CatalogChanged, &events.CatalogChangedData{
					Family: family, Path: ev.Name,
				})
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("model cache watcher error", slog.String("error", err.Error()))
		}
	}
}
