package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RepoLock guards a repository's data directory against a second engine
// instance opening the same metadata/lexical/vector stores concurrently.
// SQLite's own locking handles concurrent readers and a single writer
// within one process, but two separate codelensd processes pointed at the
// same data directory would otherwise both believe they own the write
// connection.
type RepoLock struct {
	path string
	file *flock.Flock
}

// NewRepoLock returns a RepoLock for dataDir's "current.lock" file. The
// lock file is created on first Lock/TryLock call if absent.
func NewRepoLock(dataDir string) *RepoLock {
	path := filepath.Join(dataDir, "current.lock")
	return &RepoLock{path: path, file: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking. ok is false when
// another process already holds it.
func (l *RepoLock) TryLock() (ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	ok, err = l.file.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire repo lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock. Safe to call on a lock that was never
// acquired.
func (l *RepoLock) Unlock() error {
	if !l.file.Locked() {
		return nil
	}
	if err := l.file.Unlock(); err != nil {
		return fmt.Errorf("release repo lock: %w", err)
	}
	return nil
}

// Path returns the lock file's path.
func (l *RepoLock) Path() string { return l.path }
