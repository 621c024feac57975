// Package store provides the structured index: repositories, files, symbols,
// references and imports, plus the lexical (FTS/trigram) and vector search
// backends layered on top of them.
package store

import (
	"context"
	"fmt"
	"time"
)

// SymbolKind is a closed enum of the code constructs a plugin can extract.
type SymbolKind string

const (
	SymbolFunction   SymbolKind = "function"
	SymbolMethod     SymbolKind = "method"
	SymbolClass      SymbolKind = "class"
	SymbolStruct     SymbolKind = "struct"
	SymbolInterface  SymbolKind = "interface"
	SymbolTrait      SymbolKind = "trait"
	SymbolEnum       SymbolKind = "enum"
	SymbolVariant    SymbolKind = "variant"
	SymbolField      SymbolKind = "field"
	SymbolVariable   SymbolKind = "variable"
	SymbolConstant   SymbolKind = "constant"
	SymbolModule     SymbolKind = "module"
	SymbolNamespace  SymbolKind = "namespace"
	SymbolTypeAlias  SymbolKind = "type_alias"
	SymbolMacro      SymbolKind = "macro"
	SymbolMixin      SymbolKind = "mixin"
	SymbolExtension  SymbolKind = "extension"
	SymbolWidget     SymbolKind = "widget"
	SymbolSection    SymbolKind = "section"
	SymbolOther      SymbolKind = "other"
)

// ValidSymbolKinds is the closed set accepted by SaveChunks/ReplaceDerived callers.
var ValidSymbolKinds = map[SymbolKind]struct{}{
	SymbolFunction: {}, SymbolMethod: {}, SymbolClass: {}, SymbolStruct: {},
	SymbolInterface: {}, SymbolTrait: {}, SymbolEnum: {}, SymbolVariant: {},
	SymbolField: {}, SymbolVariable: {}, SymbolConstant: {}, SymbolModule: {},
	SymbolNamespace: {}, SymbolTypeAlias: {}, SymbolMacro: {}, SymbolMixin: {},
	SymbolExtension: {}, SymbolWidget: {}, SymbolSection: {}, SymbolOther: {},
}

// ReferenceKind is a closed enum describing how a reference uses a symbol.
type ReferenceKind string

const (
	RefCall      ReferenceKind = "call"
	RefRead      ReferenceKind = "read"
	RefWrite     ReferenceKind = "write"
	RefImport    ReferenceKind = "import"
	RefInherit   ReferenceKind = "inherit"
	RefImplement ReferenceKind = "implement"
	RefOverride  ReferenceKind = "override"
	RefOther     ReferenceKind = "other"
)

// Repository is a single indexed codebase root.
type Repository struct {
	ID            string // 12-hex digest of git remote URL, or absolute root path fallback
	RootPath      string // canonical absolute path, symlinks resolved
	CreatedAt     time.Time
	LastIndexedAt time.Time
}

// File is a tracked file within a Repository.
type File struct {
	ID            string // content-derived identifier, stable across renames until content changes
	RepoID        string
	RelativePath  string // POSIX-style, relative to repo root
	Language      string
	SizeBytes     int64
	ContentHash   string // SHA-256 hex digest, set whenever IsDeleted == false
	ModTime       time.Time
	IndexedAt     time.Time
	IsDeleted     bool
	DeletedAt     time.Time
}

// Symbol is a named construct extracted from a File by a language plugin.
type Symbol struct {
	ID           string
	FileID       string
	Name         string
	Kind         SymbolKind
	LineStart    int
	LineEnd      int
	ColStart     int
	ColEnd       int
	Signature    string
	Doc          string
	MetadataJSON string
}

// Reference is a use of a symbol (resolved or not) at a specific location.
type Reference struct {
	ID           string
	SymbolID     string // empty when unresolved
	ResolvedName string // set when SymbolID is empty
	FileID       string
	Line         int
	Col          int
	Kind         ReferenceKind
}

// Import is a single import/include statement in a File.
type Import struct {
	ID           string
	FileID       string
	ImportedPath string
	ImportedName string
	Alias        string
	Line         int
	IsRelative   bool
}

// FileMove is an audit row written whenever store_file reclassifies a write
// as a move (matching content_hash, different relative_path).
type FileMove struct {
	ID           string
	FileID       string
	RepoID       string
	OldPath      string
	NewPath      string
	MovedAt      time.Time
}

// Chunk is a semantic-indexer unit: a span of a file embedded as one vector.
type Chunk struct {
	ChunkID          string
	FileID           string
	ContentHash      string
	ByteStart        int
	ByteEnd          int
	TokenCount       int
	EmbeddingVersion int
	ContextBefore    string
	ContextAfter     string
}

// IndexShard is the output of a plugin for one file.
type IndexShard struct {
	Symbols     []*Symbol
	References  []*Reference
	Imports     []*Import
	ParseErrors int
}

// Hit is a single lexical (FTS) search result.
type Hit struct {
	FileID      string
	Line        int
	Snippet     string
	Score       float64
}

// ErrDimensionMismatch indicates a vector dimension mismatch between the
// configured embedder and an existing vector store.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'codelensd reindex --force')", e.Expected, e.Got)
}

// DefaultCodeStopWords contains programming keywords filtered out of
// lexical index tokenization; they are common enough to contribute no
// ranking signal for code search.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// CurrentSchemaVersion is the schema_version row written by fresh stores and
// checked against on open; a mismatch surfaces clerrors.SchemaIncompatible.
const CurrentSchemaVersion = 1

// MetadataStore persists repositories, files, symbols, references and
// imports in the relational store.
type MetadataStore interface {
	// Repository operations
	SaveRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	TouchRepositoryIndexedAt(ctx context.Context, id string, t time.Time) error

	// File operations. StoreFile implements the move-detection contract:
	// if a non-deleted file with the same content hash already exists
	// under a different path, its row is renamed instead of a new row
	// being created, and a FileMove audit row is written.
	StoreFile(ctx context.Context, repoID, relativePath, contentHash, language string, size int64, mtime time.Time) (fileID string, moved bool, err error)
	GetFile(ctx context.Context, repoID, relativePath string) (*File, error)
	GetFileByID(ctx context.Context, fileID string) (*File, error)
	GetFileByContentHash(ctx context.Context, repoID, hash string) (*File, error)
	GetFilesForReconciliation(ctx context.Context, repoID string) (map[string]*File, error)
	ListFilePathsUnder(ctx context.Context, repoID, dirPrefix string) ([]string, error)
	RemoveFile(ctx context.Context, repoID, relativePath string) error // hard-removes derived rows, marks deleted
	MarkDeleted(ctx context.Context, repoID, relativePath string) error

	// Derived-data operations. ReplaceDerived is transactional: prior
	// symbols/references/imports for fileID are deleted and the new ones
	// inserted atomically (atomic reindex).
	ReplaceDerived(ctx context.Context, fileID string, symbols []*Symbol, references []*Reference, imports []*Import) error
	GetSymbolsByFile(ctx context.Context, fileID string) ([]*Symbol, error)
	GetSymbolByID(ctx context.Context, symbolID string) (*Symbol, error)

	// Symbol lookup. LookupSymbol matches a case-insensitive substring when
	// fuzzy is true (no trigram ranking); otherwise the exact name or a
	// case-insensitive prefix. Exact matches sort first.
	LookupSymbol(ctx context.Context, repoID, name string, kind SymbolKind, fuzzy bool, limit int) ([]*Symbol, error)
	ReferencesTo(ctx context.Context, symbolID string) ([]*Reference, error)

	// State operations (key-value store for runtime/checkpoint state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// LexicalIndex provides full-text search over code content (fts_code) and
// prefix search over symbol names and docs (fts_symbols).
type LexicalIndex interface {
	IndexCode(ctx context.Context, fileID, content string) error
	IndexSymbol(ctx context.Context, symbolID, name, doc string) error
	DeleteFile(ctx context.Context, fileID string) error
	DeleteSymbol(ctx context.Context, symbolID string) error

	SearchCode(ctx context.Context, repoID, query string, limit int, languageFilter string) ([]*Hit, error)
	SearchSymbolsFuzzy(ctx context.Context, name string, limit int) ([]string, error) // returns symbol IDs

	AllFileIDs() ([]string, error)
	Close() error
}

// VectorStoreConfig configures the HNSW-backed vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int    // HNSW max connections per layer
	EfSearch       int    // HNSW query-time search width
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorResult is a single vector search result.
type VectorResult struct {
	ID       uint64
	Distance float32
	Score    float32 // normalized similarity, 0-1
}

// VectorStore provides semantic search using the HNSW algorithm. Points are
// keyed by the deterministic 64-bit id scheme.
type VectorStore interface {
	Add(ctx context.Context, ids []uint64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []uint64) error
	AllIDs() []uint64
	Contains(id uint64) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}
