// Package semantic drives the optional vector indexer: it
// chunks file content adaptively, embeds each chunk through the external
// Embedder boundary, and upserts the resulting vectors into a
// store.VectorStore keyed by a deterministic id derived from the chunk's
// repo-relative path, chunk id, start line and content-hash prefix (see
// PointID).
//
// Embedding failures degrade to lexical-only search for the affected file
// rather than failing the index: this package never
// returns EmbedderUnavailable/VectorStoreUnavailable as fatal — callers
// check Degraded() to decide whether to flag results.
package semantic

import (
	"context"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/embed"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
)

// DefaultBatchSize is the default chunk batch size for the embedder.
const DefaultBatchSize = 32

// DefaultMaxRetries bounds exponential backoff on embedding failures.
const DefaultMaxRetries = 3

// Config wires an Indexer to the chunker/embedder/vector store it drives.
type Config struct {
	RepoID string

	Embedder    embed.Embedder
	VectorStore store.VectorStore
	// Registry resolves a language id to its tree-sitter grammar for
	// symbol-aware chunking. Defaults to a fresh langreg.NewRegistry()
	// when nil.
	Registry *langreg.Registry

	BatchSize  int
	MaxRetries int
}

// Indexer chunks, embeds and upserts a repository's semantic index. It is
// safe for concurrent use by multiple files; per-file point ids, payloads
// and cached vectors live in the Indexer's own maps, guarded by mu.
type Indexer struct {
	cfg      Config
	code     *symbolChunker
	markdown *markdownChunker
	degraded atomic.Bool
	mu       sync.Mutex
	pathIDs  map[string][]uint64  // relative_path -> point ids currently resident, for Delete/Move
	payloads map[uint64]Point     // point id -> payload, for joining Search results back to a path/symbol
	vectors  map[uint64][]float32 // point id -> embedded vector, so MoveFile can relabel without re-embedding
}

// New constructs an Indexer. cfg.Embedder and cfg.VectorStore may be nil,
// in which case the indexer starts degraded: a normal, non-error mode
// where Search falls back to lexical-only results.
func New(cfg Config) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Registry == nil {
		cfg.Registry = langreg.NewRegistry()
	}
	idx := &Indexer{
		cfg:      cfg,
		code:     newSymbolChunker(cfg.Registry),
		markdown: newMarkdownChunker(),
		pathIDs:  make(map[string][]uint64),
		payloads: make(map[uint64]Point),
		vectors:  make(map[uint64][]float32),
	}
	if cfg.Embedder == nil || cfg.VectorStore == nil {
		idx.degraded.Store(true)
	}
	return idx
}

// Degraded reports whether the embedder or vector store is unavailable;
// Search and IndexFile callers should surface this rather than fail.
func (i *Indexer) Degraded() bool { return i.degraded.Load() }

// Close releases chunker resources.
func (i *Indexer) Close() {
	i.code.Close()
	i.markdown.Close()
}

// chunkerFor picks the chunker for language: Markdown is chunked by
// section, every other language by the symbol-aware code chunker.
func (i *Indexer) chunkerFor(language string) spanChunker {
	switch language {
	case "markdown", "md":
		return i.markdown
	default:
		return i.code
	}
}

// PointID derives the deterministic 64-bit id required from
// (relative_path, symbol_or_chunk_id, line, content_hash[0:8]). FNV-1a is
// used rather than a cryptographic hash since only uniform distribution
// over uint64, not collision resistance against an adversary, is needed
// here — the same construction embed.StaticEmbedder already uses for its
// hash-based fallback vectors.
func PointID(relativePath, chunkOrSymbolID string, line int, contentHash string) uint64 {
	prefix := contentHash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s", relativePath, chunkOrSymbolID, line, prefix)
	return h.Sum64()
}

// Point carries the payload attached to each vector store point.
type Point struct {
	ID            uint64
	RelativePath  string
	ContentHash   string
	RepoID        string
	Symbol        string
	Kind          string
	Line          int
	Span          [2]int
	Language      string
	ContextBefore string
	ContextAfter  string
}

// IndexFile chunks file's content, embeds each chunk and upserts the
// resulting points into the vector store, replacing any points
// previously resident for relativePath. A failed embed call or vector
// store Add degrades to lexical-only for this file: IndexFile returns nil
// and Degraded() stays (or becomes) true instead of failing the caller's
// indexing pipeline.
func (i *Indexer) IndexFile(ctx context.Context, relativePath, language, contentHash string, content []byte) ([]Point, error) {
	if i.cfg.Embedder == nil || i.cfg.VectorStore == nil {
		i.degraded.Store(true)
		return nil, nil
	}

	chunks, err := i.chunkerFor(language).Chunk(ctx, relativePath, language, content)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.ParseError, "chunk file", err).WithPath(relativePath)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	points := make([]Point, 0, len(chunks))
	for batchStart := 0; batchStart < len(chunks); batchStart += i.cfg.BatchSize {
		end := batchStart + i.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.EmbedText
		}

		vectors, err := i.embedWithRetry(ctx, texts)
		if err != nil {
			slog.Warn("embedding batch failed, degrading to lexical-only",
				slog.String("path", relativePath), slog.String("error", err.Error()))
			i.degraded.Store(true)
			return nil, nil
		}

		ids := make([]uint64, len(batch))
		for j, c := range batch {
			id := PointID(relativePath, c.ID, c.StartLine, contentHash)
			ids[j] = id
			points = append(points, Point{
				ID:            id,
				RelativePath:  relativePath,
				ContentHash:   contentHash,
				RepoID:        i.cfg.RepoID,
				Symbol:        c.SymbolName,
				Kind:          c.Kind,
				Line:          c.StartLine,
				Span:          [2]int{c.StartLine, c.EndLine},
				Language:      language,
				ContextBefore: c.ContextBefore,
			})
		}
		if err := i.cfg.VectorStore.Add(ctx, ids, vectors); err != nil {
			slog.Warn("vector store add failed, degrading to lexical-only",
				slog.String("path", relativePath), slog.String("error", err.Error()))
			i.degraded.Store(true)
			return nil, nil
		}

		i.mu.Lock()
		for j, id := range ids {
			i.vectors[id] = vectors[j]
		}
		i.mu.Unlock()
	}

	i.mu.Lock()
	if old, ok := i.pathIDs[relativePath]; ok {
		i.deleteIDs(ctx, old, relativePath)
	}
	ids := make([]uint64, len(points))
	for j, p := range points {
		ids[j] = p.ID
		i.payloads[p.ID] = p
	}
	i.pathIDs[relativePath] = ids
	i.mu.Unlock()

	return points, nil
}

// PointByID returns the payload recorded for id, if resident.
func (i *Indexer) PointByID(id uint64) (Point, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.payloads[id]
	return p, ok
}

// embedWithRetry retries EmbedBatch with exponential backoff. It is the
// only retried call in this package: VectorStore calls are made once.
func (i *Indexer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < i.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		vectors, err := i.cfg.Embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// RemoveFile deletes every point previously indexed for relativePath.
func (i *Indexer) RemoveFile(ctx context.Context, relativePath string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids, ok := i.pathIDs[relativePath]
	if !ok {
		return nil
	}
	i.deleteIDs(ctx, ids, relativePath)
	delete(i.pathIDs, relativePath)
	return nil
}

func (i *Indexer) deleteIDs(ctx context.Context, ids []uint64, relativePath string) {
	for _, id := range ids {
		delete(i.payloads, id)
		delete(i.vectors, id)
	}
	if i.cfg.VectorStore == nil || len(ids) == 0 {
		return
	}
	if err := i.cfg.VectorStore.Delete(ctx, ids); err != nil {
		slog.Warn("failed to delete stale vector points", slog.String("path", relativePath), slog.String("error", err.Error()))
	}
}

// MoveFile relabels a moved-but-unchanged file's points without
// recomputing vectors: since points are addressed by a
// deterministic id derived from (path, chunk id, line, content hash), a
// content-unchanged move changes the id itself, so this re-derives ids for
// the new path, carrying the vectors cached at IndexFile time forward by
// re-adding them at the new ids and deleting the old ones. store.VectorStore
// itself has no read-by-id accessor to recover a vector once it's resident,
// so the Indexer keeps its own id-to-vector cache rather than relying on one;
// a cold-started indexer that hasn't loaded a payload sidecar for oldPath has
// no cached vectors and returns early, leaving the stale points in place for
// the next full reindex of newPath to clean up.
func (i *Indexer) MoveFile(ctx context.Context, oldPath, newPath, newContentHash string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	oldIDs, ok := i.pathIDs[oldPath]
	if !ok {
		return nil
	}
	vectors := make([][]float32, len(oldIDs))
	for j, oldID := range oldIDs {
		v, ok := i.vectors[oldID]
		if !ok {
			return nil
		}
		vectors[j] = v
	}

	newIDs := make([]uint64, len(oldIDs))
	newPayloads := make([]Point, len(oldIDs))
	for j, oldID := range oldIDs {
		newID := rederiveID(oldID, newPath, newContentHash, j)
		newIDs[j] = newID
		p := i.payloads[oldID]
		p.ID = newID
		p.RelativePath = newPath
		p.ContentHash = newContentHash
		newPayloads[j] = p
	}
	if err := i.cfg.VectorStore.Add(ctx, newIDs, vectors); err != nil {
		slog.Warn("vector store add failed for moved file, degrading to lexical-only",
			slog.String("path", newPath), slog.String("error", err.Error()))
		i.degraded.Store(true)
		return nil
	}
	i.deleteIDs(ctx, oldIDs, oldPath)
	delete(i.pathIDs, oldPath)
	i.pathIDs[newPath] = newIDs
	for j, p := range newPayloads {
		i.payloads[p.ID] = p
		i.vectors[p.ID] = vectors[j]
	}
	return nil
}

func rederiveID(oldID uint64, newPath, newContentHash string, ordinal int) uint64 {
	return PointID(newPath, fmt.Sprintf("chunk-%d", ordinal), ordinal, newContentHash)
}

// SearchResult is a single scored semantic hit, joined back to path/payload.
type SearchResult struct {
	RelativePath string
	Symbol       string
	Kind         string
	Line         int
	Score        float32
}

// Search embeds query and returns up to k nearest points. If the indexer
// is degraded, it returns (nil, nil) rather than an error — callers must
// treat a nil, nil result as "fall back to lexical", the transparent
// degrade-to-lexical contract documented on the package itself.
func (i *Indexer) Search(ctx context.Context, query string, k int) ([]*store.VectorResult, error) {
	if i.cfg.Embedder == nil || i.cfg.VectorStore == nil || i.degraded.Load() {
		return nil, nil
	}
	vectors, err := i.cfg.Embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		slog.Warn("query embedding failed, falling back to lexical", slog.String("error", fmt.Sprint(err)))
		i.degraded.Store(true)
		return nil, nil
	}
	results, err := i.cfg.VectorStore.Search(ctx, vectors[0], k)
	if err != nil {
		slog.Warn("vector search failed, falling back to lexical", slog.String("error", err.Error()))
		return nil, nil
	}
	return results, nil
}

// SavePayloads persists the point-id-to-payload map to path as gob, the
// same sidecar-file idiom store.HNSWStore uses for its own ".meta" file —
// the vector graph is opaque ids only, so this is what lets a restarted
// process join a Search hit back to a relative path and symbol.
func (i *Indexer) SavePayloads(path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "create semantic payload sidecar", err).WithPath(tmpPath)
	}
	if err := gob.NewEncoder(f).Encode(struct {
		PathIDs  map[string][]uint64
		Payloads map[uint64]Point
		Vectors  map[uint64][]float32
	}{i.pathIDs, i.payloads, i.vectors}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return clerrors.Wrap(clerrors.Internal, "encode semantic payload sidecar", err)
	}
	if err := f.Close(); err != nil {
		return clerrors.Wrap(clerrors.Internal, "close semantic payload sidecar", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadPayloads restores a sidecar written by SavePayloads. A missing file
// is not an error: a fresh index has nothing to load yet.
func (i *Indexer) LoadPayloads(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return clerrors.Wrap(clerrors.Internal, "open semantic payload sidecar", err).WithPath(path)
	}
	defer f.Close()

	var decoded struct {
		PathIDs  map[string][]uint64
		Payloads map[uint64]Point
		Vectors  map[uint64][]float32
	}
	if err := gob.NewDecoder(f).Decode(&decoded); err != nil {
		return clerrors.Wrap(clerrors.Internal, "decode semantic payload sidecar", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.pathIDs = decoded.PathIDs
	i.payloads = decoded.Payloads
	if decoded.Vectors != nil {
		i.vectors = decoded.Vectors
	}
	return nil
}

