package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Importer merges a captured page into a live document.
type Importer interface {
	Import(htmlContent string) (int, error)
}

// Follow watches a captured page on disk and imports it into the live
// document whenever it is rewritten. It blocks until ctx is done.
//
// The parent directory is watched so editors and tools that replace the file
// atomically are picked up too.
func Follow(ctx context.Context, path string, importer Importer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	slog.Debug("following page", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			importFile(abs, importer)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "path", abs, "error", err)
		}
	}
}

func importFile(path string, importer Importer) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read page", "path", path, "error", err)
		return
	}
	added, err := importer.Import(string(data))
	if err != nil {
		slog.Warn("failed to import page", "path", path, "error", err)
		return
	}
	if added > 0 {
		slog.Info("imported new posts", "path", path, "count", added)
	}
}
