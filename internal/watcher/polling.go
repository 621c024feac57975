package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollWatcher watches a directory tree by periodically re-walking it and
// diffing modification times and sizes against the previous walk. It backs
// HybridWatcher when fsnotify is unavailable (containers without inotify,
// certain network filesystems) or fails to initialize.
type PollWatcher struct {
	interval time.Duration
	entries  map[string]entryStat
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.RWMutex
	stopped  bool
	rootPath string
}

// entryStat is the subset of fs.FileInfo a poll cycle needs to decide
// whether a path changed since the last walk.
type entryStat struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollWatcher returns a PollWatcher that re-walks its root every interval.
func NewPollWatcher(interval time.Duration) *PollWatcher {
	return &PollWatcher{
		interval: interval,
		entries:  make(map[string]entryStat),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start walks path once to establish a baseline, then re-walks every
// interval until ctx is canceled or Stop is called.
func (p *PollWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.rootPath = absPath

	baseline, err := p.walk()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.mu.Lock()
	p.entries = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.poll(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the poll loop. Safe to call more than once.
func (p *PollWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of detected file changes.
func (p *PollWatcher) Events() <-chan FileEvent { return p.events }

// Errors returns the channel of walk errors.
func (p *PollWatcher) Errors() <-chan error { return p.errors }

// walk re-reads the whole tree rooted at p.rootPath into a fresh snapshot,
// without comparing against the previous one. Shared by the initial
// baseline and by poll, which does the comparison itself so it can emit
// events incrementally as it walks rather than after building the full map.
func (p *PollWatcher) walk() (map[string]entryStat, error) {
	snapshot := make(map[string]entryStat)
	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.rootPath {
				return err
			}
			return nil
		}
		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snapshot[relPath] = entryStat{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// poll re-walks the tree, emitting a CREATE for paths absent from the
// previous snapshot, a MODIFY for paths whose mtime or size changed, and a
// DELETE for previously-seen paths missing from the new walk.
func (p *PollWatcher) poll() error {
	current, err := p.walk()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for relPath, stat := range current {
		prev, existed := p.entries[relPath]
		switch {
		case !existed:
			p.emitLocked(FileEvent{Path: relPath, Operation: OpCreate, IsDir: stat.isDir, Timestamp: time.Now()})
		case prev.modTime != stat.modTime || prev.size != stat.size:
			p.emitLocked(FileEvent{Path: relPath, Operation: OpModify, IsDir: stat.isDir, Timestamp: time.Now()})
		}
	}
	for relPath, stat := range p.entries {
		if _, stillPresent := current[relPath]; !stillPresent {
			p.emitLocked(FileEvent{Path: relPath, Operation: OpDelete, IsDir: stat.isDir, Timestamp: time.Now()})
		}
	}

	p.entries = current
	return nil
}

// emitLocked sends event to the events channel. Caller must hold p.mu.
func (p *PollWatcher) emitLocked(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("poll watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
