package indexengine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/codelens-dev/codelens/internal/scanner"
	"github.com/codelens-dev/codelens/internal/store"
)

// ChangeType classifies a difference found between the metadata store's
// view of a repository and its current filesystem state.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeDeleted
)

// FileChange is one detected difference to reconcile.
type FileChange struct {
	Path string
	Type ChangeType
}

// ReconcileOnStartup compares the metadata store's record of this
// repository against its current filesystem state and applies whatever
// changed while the daemon was not running: new files are indexed, changed
// files are reindexed, and files that disappeared are removed. Ported from
// coordinator.go's ReconcileFilesOnStartup, generalized from a single
// project-scoped store to this engine's repository-scoped one.
func (e *Engine) ReconcileOnStartup(ctx context.Context, excludePatterns []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcile(ctx, excludePatterns)
}

// reconcile computes and applies the indexed-vs-current diff. Callers must
// hold e.mu.
func (e *Engine) reconcile(ctx context.Context, excludePatterns []string) error {
	indexed, err := e.cfg.Metadata.GetFilesForReconciliation(ctx, e.cfg.RepoID)
	if err != nil {
		return fmt.Errorf("get indexed files: %w", err)
	}
	if len(indexed) == 0 {
		return nil
	}

	current, err := e.scanCurrentFiles(ctx, excludePatterns)
	if err != nil {
		return fmt.Errorf("scan filesystem: %w", err)
	}

	changes := detectFileChanges(indexed, current)
	if len(changes) == 0 {
		slog.Debug("no file changes detected since last run", slog.String("repo_id", e.cfg.RepoID))
		return nil
	}

	var added, modified, deleted int
	for _, c := range changes {
		switch c.Type {
		case ChangeAdded:
			added++
		case ChangeModified:
			modified++
		case ChangeDeleted:
			deleted++
		}
	}
	slog.Info("reconciling file changes since last run",
		slog.String("repo_id", e.cfg.RepoID),
		slog.Int("added", added), slog.Int("modified", modified), slog.Int("deleted", deleted))

	return e.applyFileChanges(ctx, changes)
}

func (e *Engine) scanCurrentFiles(ctx context.Context, excludePatterns []string) (map[string]*scanner.FileInfo, error) {
	results, err := e.cfg.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          e.cfg.RootPath,
		RespectGitignore: true,
		ExcludePatterns:  excludePatterns,
	})
	if err != nil {
		return nil, err
	}

	current := make(map[string]*scanner.FileInfo)
	for result := range results {
		if result.Error != nil || result.File == nil {
			continue
		}
		current[result.File.Path] = result.File
	}
	return current, nil
}

// detectFileChanges diffs indexed against current by mtime (truncated to
// whole seconds on both sides, so a change within the same second is not
// detected by mtime alone) and size, then
// orders deletions before modifications before additions so that a path
// freed by a delete never collides with an addition at the same path
// within one reconciliation pass.
func detectFileChanges(indexed map[string]*store.File, current map[string]*scanner.FileInfo) []FileChange {
	var changes []FileChange

	for path, file := range indexed {
		cur, ok := current[path]
		if !ok {
			changes = append(changes, FileChange{Path: path, Type: ChangeDeleted})
			continue
		}
		if !cur.ModTime.Truncate(1e9).Equal(file.ModTime.Truncate(1e9)) || cur.Size != file.SizeBytes {
			changes = append(changes, FileChange{Path: path, Type: ChangeModified})
		}
	}
	for path := range current {
		if _, ok := indexed[path]; !ok {
			changes = append(changes, FileChange{Path: path, Type: ChangeAdded})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Type != changes[j].Type {
			return changes[i].Type > changes[j].Type // Deleted > Modified > Added
		}
		return changes[i].Path < changes[j].Path
	})
	return changes
}

// applyFileChanges processes changes in order, checking for shutdown
// between each one so a slow startup reconciliation can be interrupted
// cleanly rather than racing a closing store.
func (e *Engine) applyFileChanges(ctx context.Context, changes []FileChange) error {
	var added, modified, deleted int
	for i, change := range changes {
		select {
		case <-ctx.Done():
			slog.Debug("reconciliation interrupted", slog.Int("processed", i), slog.Int("remaining", len(changes)-i))
			return nil
		default:
		}

		switch change.Type {
		case ChangeDeleted:
			if err := e.RemoveFile(ctx, change.Path); err != nil {
				slog.Warn("failed to remove deleted file", slog.String("path", change.Path), slog.String("error", err.Error()))
				continue
			}
			deleted++
		case ChangeModified, ChangeAdded:
			indexedOK, err := e.IndexFile(ctx, change.Path)
			if err != nil {
				slog.Warn("failed to reindex file", slog.String("path", change.Path), slog.String("error", err.Error()))
				continue
			}
			if !indexedOK {
				continue
			}
			if change.Type == ChangeModified {
				modified++
			} else {
				added++
			}
		}
	}

	slog.Debug("reconciliation applied", slog.Int("added", added), slog.Int("modified", modified), slog.Int("deleted", deleted))
	return nil
}
