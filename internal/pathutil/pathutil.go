// Package pathutil normalizes filesystem paths to repo-relative, POSIX-style
// form and computes streaming content hashes. Every path that crosses a
// component boundary passes through here first.
package pathutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// hashBlockSize matches the streaming block size used when hashing files,
// so large files never need to be fully resident in memory.
const hashBlockSize = 4096

// Normalize resolves absolutePath's symlinks and returns it relative to
// root, using '/' separators. Returns OutOfRepo if the resolved path does
// not live under root.
func Normalize(root, absolutePath string) (string, error) {
	resolvedRoot, err := resolveSymlinks(root)
	if err != nil {
		return "", clerrors.Wrap(clerrors.InvalidPath, "resolve repo root", err).WithPath(root)
	}
	resolvedPath, err := resolveSymlinks(absolutePath)
	if err != nil {
		return "", clerrors.Wrap(clerrors.InvalidPath, "resolve path", err).WithPath(absolutePath)
	}

	rel, err := filepath.Rel(resolvedRoot, resolvedPath)
	if err != nil {
		return "", clerrors.Wrap(clerrors.OutOfRepo, "path is not relative to repo root", err).WithPath(absolutePath)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", clerrors.New(clerrors.OutOfRepo, "path is the repo root itself").WithPath(absolutePath)
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", clerrors.New(clerrors.OutOfRepo, "path escapes repo root").WithPath(absolutePath)
	}
	return rel, nil
}

// Resolve is the inverse of Normalize: it joins root with the POSIX-style
// relativePath, producing a platform-native absolute path.
func Resolve(root, relativePath string) string {
	return filepath.Join(root, filepath.FromSlash(relativePath))
}

// resolveSymlinks resolves symlinks when the path exists; for paths that do
// not yet exist (e.g. a file about to be created) it falls back to a plain
// absolute-path cleanup so callers can still normalize pending paths.
func resolveSymlinks(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", err
	}
	return resolved, nil
}

// HashFile computes the SHA-256 hex digest of path's contents, streaming in
// fixed-size blocks so it never loads the whole file into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", clerrors.Wrap(clerrors.NotFound, "open file for hashing", err).WithPath(path)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader computes the SHA-256 hex digest of r's contents, reading in
// fixed-size blocks.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", clerrors.Wrap(clerrors.Internal, "hash content", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the SHA-256 hex digest of already-loaded content. Used
// when the caller has already read the file (e.g. the index engine, which
// needs the bytes for parsing anyway).
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DetectRepoRoot walks upward from start looking for a directory containing
// .git, falling back to start itself if none is found.
func DetectRepoRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", clerrors.Wrap(clerrors.InvalidPath, "resolve start directory", err).WithPath(start)
	}

	dir := abs
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			_ = info
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return abs, nil
}

// IsPortable reports whether rel is a well-formed repo-relative path per
// Canonical form: no leading '/', no '..' segments, '/' separators.
func IsPortable(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") {
		return false
	}
	if strings.Contains(rel, "\\") {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}
