package indexengine

import (
	"context"
	"log/slog"

	"github.com/codelens-dev/codelens/internal/watcher"
)

// HandleEvents applies a batch of file-watcher events to this engine's
// repository: creates and modifications are (re)indexed, deletions are
// removed, and gitignore/config changes trigger a full reconciliation.
// Ported from coordinator.go's HandleEvents/handleEvent dispatch; one
// failing event logs and is skipped rather than aborting the batch.
func (e *Engine) HandleEvents(ctx context.Context, events []watcher.FileEvent, excludePatterns []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, event := range events {
		if event.IsDir {
			continue
		}
		if err := e.handleEvent(ctx, event, excludePatterns); err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, event watcher.FileEvent, excludePatterns []string) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		_, err := e.IndexFile(ctx, event.Path)
		return err
	case watcher.OpDelete:
		return e.RemoveFile(ctx, event.Path)
	case watcher.OpRename:
		// Path is indexed before OldPath is removed, so StoreFile's
		// content-hash match still finds the live row at OldPath and
		// renames it. HybridWatcher leaves OldPath empty: it reports the
		// rename on the old path and a separate create for the new one.
		_, err := e.IndexFile(ctx, event.Path)
		if event.OldPath != "" {
			if rmErr := e.RemoveFile(ctx, event.OldPath); rmErr != nil && err == nil {
				err = rmErr
			}
		}
		return err
	case watcher.OpGitignoreChange, watcher.OpConfigChange:
		return e.reconcile(ctx, excludePatterns)
	default:
		return nil
	}
}
