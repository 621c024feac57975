// Package indexengine drives per-file and bulk indexing: it classifies a
// file, resolves the language plugin responsible for it, and writes the
// resulting symbols, references and imports into the metadata and lexical
// stores.
package indexengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/scanner"
	"github.com/codelens-dev/codelens/internal/store"
)

// DefaultMaxFileSize is the largest file this engine will read into memory
// for indexing. Larger files are skipped rather than erroring, matching the
// teacher's graceful-degradation stance on oversized input.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// DefaultWorkers bounds how many files IndexAll indexes concurrently
// (reconciliation applies its changes one at a time). A fixed small pool keeps plugin
// construction (which itself has a load timeout) from stampeding.
const DefaultWorkers = 8

// Config wires an Engine to the stores and registry it drives.
type Config struct {
	RepoID   string
	RootPath string

	Metadata store.MetadataStore
	Lexical  store.LexicalIndex

	Registry *langreg.Registry
	Cache    *langreg.PluginCache

	Scanner *scanner.Scanner

	// MaxFileSize overrides DefaultMaxFileSize when positive.
	MaxFileSize int64

	// Workers overrides DefaultWorkers when positive.
	Workers int
}

// Engine indexes files of a single repository.
type Engine struct {
	cfg Config
	mu  sync.Mutex
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) maxFileSize() int64 {
	if e.cfg.MaxFileSize > 0 {
		return e.cfg.MaxFileSize
	}
	return DefaultMaxFileSize
}

func (e *Engine) workers() int {
	if e.cfg.Workers > 0 {
		return e.cfg.Workers
	}
	return DefaultWorkers
}

// skipReason names why a file was not indexed, for logging and stats.
type skipReason string

const (
	skipNone        skipReason = ""
	skipSymlink     skipReason = "symlink"
	skipOversized   skipReason = "oversized"
	skipBinary      skipReason = "binary"
	skipUnsupported skipReason = "unsupported"
)

// classify stats relPath and decides whether it is eligible for indexing,
// reading its content along the way since the binary check needs bytes
// already in hand. Ported from the watcher-event path of coordinator.go's
// indexFile: Lstat first so symlinks are never followed, then a size check
// before any read, then a null-byte sniff of the content itself.
func (e *Engine) classify(relPath string) (content []byte, reason skipReason, err error) {
	absPath := filepath.Join(e.cfg.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, skipNone, fmt.Errorf("stat %s: %w", relPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, skipSymlink, nil
	}
	if info.Size() > e.maxFileSize() {
		return nil, skipOversized, nil
	}

	content, err = os.ReadFile(absPath)
	if err != nil {
		return nil, skipNone, fmt.Errorf("read %s: %w", relPath, err)
	}
	if isBinaryContent(content) {
		return nil, skipBinary, nil
	}
	return content, skipNone, nil
}

// isBinaryContent sniffs the first 512 bytes for a NUL, the same heuristic
// git and the teacher's coordinator use to tell text from binary.
func isBinaryContent(content []byte) bool {
	n := len(content)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IndexFile (re)indexes a single file: classify, detect its language,
// resolve a plugin, extract symbols/references/imports, and persist both
// the relational rows and the lexical index entries.
//
// A file whose language is not detected is indexed with the plaintext
// ("text") plugin. A skip (symlink, oversized or binary) is not an error:
// it returns (false, nil).
func (e *Engine) IndexFile(ctx context.Context, relPath string) (indexed bool, err error) {
	content, reason, err := e.classify(relPath)
	if err != nil {
		return false, err
	}
	if reason != skipNone {
		slog.Debug("skipping file", slog.String("path", relPath), slog.String("reason", string(reason)))
		return false, nil
	}

	langID, ok := e.cfg.Registry.DetectLanguage(relPath, firstBytes(content))
	if !ok {
		langID = "text"
	}
	lang, ok := e.cfg.Registry.ByID(langID)
	if !ok {
		return false, clerrors.New(clerrors.Internal, "detected language not registered").WithData("language", langID)
	}

	plugin, err := e.cfg.Cache.Get(ctx, lang)
	if err != nil {
		return false, err
	}

	shard, err := plugin.Index(ctx, relPath, content)
	if err != nil {
		return false, clerrors.Wrap(clerrors.ParseError, "index file", err).WithPath(relPath)
	}

	absPath := filepath.Join(e.cfg.RootPath, relPath)
	info, err := os.Lstat(absPath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", relPath, err)
	}

	fileID, _, err := e.cfg.Metadata.StoreFile(ctx, e.cfg.RepoID, relPath, hashContent(content), langID, info.Size(), info.ModTime())
	if err != nil {
		return false, fmt.Errorf("store file record: %w", err)
	}

	// ReplaceDerived assigns IDs and FileID to shard.Symbols/References/
	// Imports in place when they arrive empty, so the symbol IDs used below
	// for lexical indexing are only available after this call returns.
	if err := e.cfg.Metadata.ReplaceDerived(ctx, fileID, shard.Symbols, shard.References, shard.Imports); err != nil {
		return false, fmt.Errorf("replace derived rows: %w", err)
	}

	if err := e.cfg.Lexical.IndexCode(ctx, fileID, string(content)); err != nil {
		return false, fmt.Errorf("index code: %w", err)
	}
	for _, sym := range shard.Symbols {
		if err := e.cfg.Lexical.IndexSymbol(ctx, sym.ID, sym.Name, sym.Doc); err != nil {
			return false, fmt.Errorf("index symbol %s: %w", sym.Name, err)
		}
	}

	return true, nil
}

func firstBytes(content []byte) []byte {
	n := len(content)
	if n > 256 {
		n = 256
	}
	return content[:n]
}

// RemoveFile deletes a file's derived rows and lexical entries. Missing
// files are not an error, mirroring coordinator.go's removeFile tolerance
// for events racing a prior deletion.
func (e *Engine) RemoveFile(ctx context.Context, relPath string) error {
	file, err := e.cfg.Metadata.GetFile(ctx, e.cfg.RepoID, relPath)
	if err != nil {
		return nil
	}

	if err := e.cfg.Lexical.DeleteFile(ctx, file.ID); err != nil {
		return fmt.Errorf("delete lexical file entry: %w", err)
	}
	symbols, err := e.cfg.Metadata.GetSymbolsByFile(ctx, file.ID)
	if err == nil {
		for _, sym := range symbols {
			if err := e.cfg.Lexical.DeleteSymbol(ctx, sym.ID); err != nil {
				slog.Warn("failed to delete lexical symbol entry", slog.String("symbol_id", sym.ID), slog.String("error", err.Error()))
			}
		}
	}

	if err := e.cfg.Metadata.RemoveFile(ctx, e.cfg.RepoID, relPath); err != nil {
		return fmt.Errorf("remove file record: %w", err)
	}
	return nil
}

// IndexAll walks every file under the repository root and indexes it,
// bounding concurrency with errgroup.SetLimit. x/sync/semaphore would serve
// the same purpose, but nothing in this codebase's stack otherwise reaches
// for it, while errgroup is already load-bearing in the search engine's
// concurrent retrieval paths; reusing it here keeps the dependency surface
// to what the rest of the engine already exercises.
func (e *Engine) IndexAll(ctx context.Context, excludePatterns []string) (indexedCount int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results, err := e.cfg.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          e.cfg.RootPath,
		RespectGitignore: true,
		ExcludePatterns:  excludePatterns,
		Workers:          e.workers(),
	})
	if err != nil {
		return 0, fmt.Errorf("start scan: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())

	var mu sync.Mutex
	for result := range results {
		if result.Error != nil {
			slog.Debug("scan error", slog.String("error", result.Error.Error()))
			continue
		}
		if result.File == nil {
			continue
		}
		path := result.File.Path
		g.Go(func() error {
			indexed, err := e.IndexFile(gctx, path)
			if err != nil {
				slog.Warn("failed to index file", slog.String("path", path), slog.String("error", err.Error()))
				return nil // one bad file must not abort the whole walk
			}
			if indexed {
				mu.Lock()
				indexedCount++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return indexedCount, err
	}

	if err := e.cfg.Metadata.TouchRepositoryIndexedAt(ctx, e.cfg.RepoID, time.Now()); err != nil {
		slog.Warn("failed to update repository indexed_at", slog.String("error", err.Error()))
	}
	return indexedCount, nil
}
