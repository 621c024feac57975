package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// SQLiteMetadataStore implements MetadataStore over a single SQLite database
// holding repositories, files, symbols, references and imports — the
// relational half of the storage layer. It shares
// the WAL/single-writer idiom used throughout this package's SQLite-backed
// stores (fts_sqlite.go).
type SQLiteMetadataStore struct {
	mu     sync.Mutex // serializes writers; SQLite itself allows concurrent readers under WAL
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens or creates the metadata database at path. An
// empty path opens an in-memory database for tests. Schema migrations run
// forward in a single transaction on open; a version newer than this binary
// understands surfaces clerrors.SchemaIncompatible.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "create metadata store directory", err).WithPath(dir)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.StoreBusy, "open metadata store", err).WithPath(path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, clerrors.Wrap(clerrors.Internal, "set metadata store pragma", err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMetadataStore) migrate() error {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows || isNoSuchTable(err) {
		return s.createSchema()
	}
	if err != nil {
		return clerrors.Wrap(clerrors.StoreCorrupt, "read schema version", err)
	}
	if version > CurrentSchemaVersion {
		return clerrors.New(clerrors.SchemaIncompatible,
			fmt.Sprintf("metadata store schema version %d is newer than supported version %d", version, CurrentSchemaVersion))
	}
	return nil
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (s *SQLiteMetadataStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		root_path TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		mtime TEXT NOT NULL,
		indexed_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_files_repo_path_live
		ON files(repo_id, relative_path) WHERE is_deleted = 0;
	CREATE INDEX IF NOT EXISTS idx_files_content_hash ON files(repo_id, content_hash);

	CREATE TABLE IF NOT EXISTS symbols (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		line_start INTEGER NOT NULL,
		line_end INTEGER NOT NULL,
		col_start INTEGER NOT NULL DEFAULT 0,
		col_end INTEGER NOT NULL DEFAULT 0,
		signature TEXT NOT NULL DEFAULT '',
		doc TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);
	CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);

	CREATE TABLE IF NOT EXISTS references_ (
		id TEXT PRIMARY KEY,
		symbol_id TEXT NOT NULL DEFAULT '',
		resolved_name TEXT NOT NULL DEFAULT '',
		file_id TEXT NOT NULL,
		line INTEGER NOT NULL,
		col INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_references_symbol ON references_(symbol_id);
	CREATE INDEX IF NOT EXISTS idx_references_file ON references_(file_id);

	CREATE TABLE IF NOT EXISTS imports (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		imported_path TEXT NOT NULL,
		imported_name TEXT NOT NULL DEFAULT '',
		alias TEXT NOT NULL DEFAULT '',
		line INTEGER NOT NULL,
		is_relative INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_imports_file ON imports(file_id);

	CREATE TABLE IF NOT EXISTS file_moves (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		old_path TEXT NOT NULL,
		new_path TEXT NOT NULL,
		moved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (` + fmt.Sprint(CurrentSchemaVersion) + `);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return clerrors.Wrap(clerrors.Internal, "create metadata store schema", err)
	}
	return nil
}

func generateID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unreachable in practice; fall
		// back to a timestamp-derived id rather than panicking mid-index.
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(buf)
}

func timeOrZero(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SaveRepository inserts or updates a repository row.
func (s *SQLiteMetadataStore) SaveRepository(ctx context.Context, repo *Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, root_path, created_at, last_indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET root_path = excluded.root_path, last_indexed_at = excluded.last_indexed_at
	`, repo.ID, repo.RootPath, repo.CreatedAt.UTC().Format(time.RFC3339Nano), repo.LastIndexedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "save repository", err)
	}
	return nil
}

// GetRepository fetches a repository by id.
func (s *SQLiteMetadataStore) GetRepository(ctx context.Context, id string) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	var repo Repository
	var createdAt, lastIndexedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, root_path, created_at, last_indexed_at FROM repositories WHERE id = ?`, id).
		Scan(&repo.ID, &repo.RootPath, &createdAt, &lastIndexedAt)
	if err == sql.ErrNoRows {
		return nil, clerrors.New(clerrors.NotFound, "repository not found").WithData("repo_id", id)
	}
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "get repository", err)
	}
	repo.CreatedAt = parseTime(createdAt)
	repo.LastIndexedAt = parseTime(lastIndexedAt)
	return &repo, nil
}

// TouchRepositoryIndexedAt sets the repository's last_indexed_at to t. The
// dispatcher's query cache does not read this value.
func (s *SQLiteMetadataStore) TouchRepositoryIndexedAt(ctx context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET last_indexed_at = ? WHERE id = ?`,
		t.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "touch repository indexed_at", err)
	}
	return nil
}

// StoreFile implements the classification contract: an
// existing row at (repoID, relativePath) is updated in place; absent that,
// a matching content hash elsewhere in the repo is treated as a move
// (renamed in place, audited, no re-parse needed); otherwise a new row is
// created.
func (s *SQLiteMetadataStore) StoreFile(ctx context.Context, repoID, relativePath, contentHash, language string, size int64, mtime time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, clerrors.New(clerrors.Internal, "metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, clerrors.Wrap(clerrors.StoreBusy, "begin store_file transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	mtimeStr := mtime.UTC().Format(time.RFC3339Nano)

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM files WHERE repo_id = ? AND relative_path = ? AND is_deleted = 0`,
		repoID, relativePath).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET content_hash = ?, language = ?, size_bytes = ?, mtime = ?, indexed_at = ?
			WHERE id = ?
		`, contentHash, language, size, mtimeStr, now, existingID); err != nil {
			return "", false, clerrors.Wrap(clerrors.Internal, "update file row", err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, clerrors.Wrap(clerrors.StoreBusy, "commit store_file transaction", err)
		}
		return existingID, false, nil

	case err != sql.ErrNoRows:
		return "", false, clerrors.Wrap(clerrors.Internal, "query existing file row", err)
	}

	// No row at this path. A matching content hash elsewhere in the repo
	// means this is a move: rename the existing row instead of reparsing.
	var movedID, oldPath string
	err = tx.QueryRowContext(ctx,
		`SELECT id, relative_path FROM files WHERE repo_id = ? AND content_hash = ? AND is_deleted = 0 LIMIT 1`,
		repoID, contentHash).Scan(&movedID, &oldPath)
	if err == nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET relative_path = ?, language = ?, mtime = ?, indexed_at = ?
			WHERE id = ?
		`, relativePath, language, mtimeStr, now, movedID); err != nil {
			return "", false, clerrors.Wrap(clerrors.Internal, "rename moved file row", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_moves (id, file_id, repo_id, old_path, new_path, moved_at) VALUES (?, ?, ?, ?, ?, ?)
		`, generateID(), movedID, repoID, oldPath, relativePath, now); err != nil {
			return "", false, clerrors.Wrap(clerrors.Internal, "write file_moves audit row", err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, clerrors.Wrap(clerrors.StoreBusy, "commit store_file transaction", err)
		}
		return movedID, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, clerrors.Wrap(clerrors.Internal, "query file by content hash", err)
	}

	// Genuinely new file.
	id := generateID()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (id, repo_id, relative_path, language, size_bytes, content_hash, mtime, indexed_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, id, repoID, relativePath, language, size, contentHash, mtimeStr, now); err != nil {
		return "", false, clerrors.Wrap(clerrors.Internal, "insert new file row", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, clerrors.Wrap(clerrors.StoreBusy, "commit store_file transaction", err)
	}
	return id, false, nil
}

func (s *SQLiteMetadataStore) scanFile(row *sql.Row) (*File, error) {
	var f File
	var mtime, indexedAt, deletedAt sql.NullString
	var isDeleted int
	err := row.Scan(&f.ID, &f.RepoID, &f.RelativePath, &f.Language, &f.SizeBytes, &f.ContentHash,
		&mtime, &indexedAt, &isDeleted, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, clerrors.New(clerrors.NotFound, "file not found")
	}
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "scan file row", err)
	}
	f.ModTime = parseTime(mtime.String)
	f.IndexedAt = parseTime(indexedAt.String)
	f.IsDeleted = isDeleted != 0
	f.DeletedAt = parseTime(deletedAt.String)
	return &f, nil
}

const fileColumns = `id, repo_id, relative_path, language, size_bytes, content_hash, mtime, indexed_at, is_deleted, deleted_at`

// GetFile fetches the file row at repo and relative path. The live row is
// preferred; when the path only has soft-deleted rows, the most recently
// deleted one is returned with IsDeleted set.
func (s *SQLiteMetadataStore) GetFile(ctx context.Context, repoID, relativePath string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = ? AND relative_path = ?
		ORDER BY is_deleted, deleted_at DESC LIMIT 1`, repoID, relativePath)
	return s.scanFile(row)
}

// GetFileByID fetches a file by its primary key, regardless of deletion
// state, for retrievers that key lexical hits by FileID and need to
// resolve them back to a relative path for the dispatcher's fused results.
func (s *SQLiteMetadataStore) GetFileByID(ctx context.Context, fileID string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, fileID)
	return s.scanFile(row)
}

// GetFileByContentHash fetches the first non-deleted file matching hash.
func (s *SQLiteMetadataStore) GetFileByContentHash(ctx context.Context, repoID, hash string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = ? AND content_hash = ? AND is_deleted = 0 LIMIT 1`, repoID, hash)
	return s.scanFile(row)
}

// GetFilesForReconciliation returns every non-deleted file in repoID keyed
// by relative path, for the index engine's startup reconciliation pass.
func (s *SQLiteMetadataStore) GetFilesForReconciliation(ctx context.Context, repoID string) (map[string]*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = ? AND is_deleted = 0`, repoID)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "query files for reconciliation", err)
	}
	defer rows.Close()

	out := make(map[string]*File)
	for rows.Next() {
		var f File
		var mtime, indexedAt, deletedAt sql.NullString
		var isDeleted int
		if err := rows.Scan(&f.ID, &f.RepoID, &f.RelativePath, &f.Language, &f.SizeBytes, &f.ContentHash,
			&mtime, &indexedAt, &isDeleted, &deletedAt); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan file row", err)
		}
		f.ModTime = parseTime(mtime.String)
		f.IndexedAt = parseTime(indexedAt.String)
		f.IsDeleted = isDeleted != 0
		out[f.RelativePath] = &f
	}
	return out, rows.Err()
}

// ListFilePathsUnder lists non-deleted file paths under dirPrefix, used when
// a .gitignore changes partway down a subtree.
func (s *SQLiteMetadataStore) ListFilePathsUnder(ctx context.Context, repoID, dirPrefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	prefix := strings.TrimSuffix(dirPrefix, "/") + "/"
	rows, err := s.db.QueryContext(ctx,
		`SELECT relative_path FROM files WHERE repo_id = ? AND is_deleted = 0 AND relative_path LIKE ? ESCAPE '\'`,
		repoID, escapeLike(prefix)+"%")
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "list file paths under prefix", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan file path", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// RemoveFile hard-removes derived rows for relativePath and marks the file
// deleted.
func (s *SQLiteMetadataStore) RemoveFile(ctx context.Context, repoID, relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "begin remove_file transaction", err)
	}
	defer tx.Rollback()

	var fileID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM files WHERE repo_id = ? AND relative_path = ? AND is_deleted = 0`,
		repoID, relativePath).Scan(&fileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "find file to remove", err)
	}

	if err := deleteDerivedTx(ctx, tx, fileID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET is_deleted = 1, deleted_at = ? WHERE id = ?`, now, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "mark file deleted", err)
	}
	if err := tx.Commit(); err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "commit remove_file transaction", err)
	}
	return nil
}

func deleteDerivedTx(ctx context.Context, tx *sql.Tx, fileID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete symbols", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM references_ WHERE file_id = ?`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete references", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE file_id = ?`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete imports", err)
	}
	return nil
}

// MarkDeleted soft-deletes a file without touching derived rows. Nothing in
// this module removes soft-deleted file rows or their derived rows later.
func (s *SQLiteMetadataStore) MarkDeleted(ctx context.Context, repoID, relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET is_deleted = 1, deleted_at = ? WHERE repo_id = ? AND relative_path = ? AND is_deleted = 0`,
		now, repoID, relativePath)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "mark file deleted", err)
	}
	return nil
}

// ReplaceDerived atomically replaces a file's symbols/references/imports,
// satisfying the atomic-reindex invariant.
func (s *SQLiteMetadataStore) ReplaceDerived(ctx context.Context, fileID string, symbols []*Symbol, references []*Reference, imports []*Import) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "begin replace_derived transaction", err)
	}
	defer tx.Rollback()

	if err := deleteDerivedTx(ctx, tx, fileID); err != nil {
		return err
	}

	for _, sym := range symbols {
		if _, ok := ValidSymbolKinds[sym.Kind]; !ok {
			return clerrors.New(clerrors.Internal, "invalid symbol kind").WithData("kind", string(sym.Kind))
		}
		if sym.ID == "" {
			sym.ID = generateID()
		}
		sym.FileID = fileID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO symbols (id, file_id, name, kind, line_start, line_end, col_start, col_end, signature, doc, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sym.ID, sym.FileID, sym.Name, string(sym.Kind), sym.LineStart, sym.LineEnd, sym.ColStart, sym.ColEnd,
			sym.Signature, sym.Doc, sym.MetadataJSON); err != nil {
			return clerrors.Wrap(clerrors.Internal, "insert symbol", err)
		}
	}

	for _, ref := range references {
		if ref.ID == "" {
			ref.ID = generateID()
		}
		ref.FileID = fileID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO references_ (id, symbol_id, resolved_name, file_id, line, col, kind)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ref.ID, ref.SymbolID, ref.ResolvedName, ref.FileID, ref.Line, ref.Col, string(ref.Kind)); err != nil {
			return clerrors.Wrap(clerrors.Internal, "insert reference", err)
		}
	}

	for _, imp := range imports {
		if imp.ID == "" {
			imp.ID = generateID()
		}
		imp.FileID = fileID
		isRelative := 0
		if imp.IsRelative {
			isRelative = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO imports (id, file_id, imported_path, imported_name, alias, line, is_relative)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, imp.ID, imp.FileID, imp.ImportedPath, imp.ImportedName, imp.Alias, imp.Line, isRelative); err != nil {
			return clerrors.Wrap(clerrors.Internal, "insert import", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "commit replace_derived transaction", err)
	}
	return nil
}

// GetSymbolsByFile returns every symbol for fileID, ordered by source position.
func (s *SQLiteMetadataStore) GetSymbolsByFile(ctx context.Context, fileID string) ([]*Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, name, kind, line_start, line_end, col_start, col_end, signature, doc, metadata_json
		FROM symbols WHERE file_id = ? ORDER BY line_start
	`, fileID)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "query symbols by file", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// GetSymbolByID fetches a single symbol by its primary key, for joining a
// fuzzy-retriever symbol id back to its file/line/name at query time.
func (s *SQLiteMetadataStore) GetSymbolByID(ctx context.Context, symbolID string) (*Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, name, kind, line_start, line_end, col_start, col_end, signature, doc, metadata_json
		FROM symbols WHERE id = ?
	`, symbolID)
	var sym Symbol
	var kind string
	err := row.Scan(&sym.ID, &sym.FileID, &sym.Name, &kind, &sym.LineStart, &sym.LineEnd,
		&sym.ColStart, &sym.ColEnd, &sym.Signature, &sym.Doc, &sym.MetadataJSON)
	if err == sql.ErrNoRows {
		return nil, clerrors.New(clerrors.NotFound, "symbol not found")
	}
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "scan symbol row", err)
	}
	sym.Kind = SymbolKind(kind)
	return &sym, nil
}

func scanSymbols(rows *sql.Rows) ([]*Symbol, error) {
	var out []*Symbol
	for rows.Next() {
		var sym Symbol
		var kind string
		if err := rows.Scan(&sym.ID, &sym.FileID, &sym.Name, &kind, &sym.LineStart, &sym.LineEnd,
			&sym.ColStart, &sym.ColEnd, &sym.Signature, &sym.Doc, &sym.MetadataJSON); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan symbol row", err)
		}
		sym.Kind = SymbolKind(kind)
		out = append(out, &sym)
	}
	return out, rows.Err()
}

// LookupSymbol resolves symbols by name within a repo, over live files
// only. When fuzzy is false it matches the exact name or a case-insensitive
// prefix; when fuzzy is true it matches a case-insensitive substring. In
// both cases exact matches sort first, then by name. No trigram ranking is
// applied, and BleveFuzzySymbolIndex is not consulted.
func (s *SQLiteMetadataStore) LookupSymbol(ctx context.Context, repoID, name string, kind SymbolKind, fuzzy bool, limit int) ([]*Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}

	query := `
		SELECT s.id, s.file_id, s.name, s.kind, s.line_start, s.line_end, s.col_start, s.col_end, s.signature, s.doc, s.metadata_json
		FROM symbols s JOIN files f ON f.id = s.file_id
		WHERE f.repo_id = ? AND f.is_deleted = 0
	`
	args := []any{repoID}

	if fuzzy {
		query += ` AND s.name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(name)+"%")
	} else {
		query += ` AND (s.name = ? OR s.name LIKE ? ESCAPE '\')`
		args = append(args, name, escapeLike(name)+"%")
	}

	if kind != "" {
		query += ` AND s.kind = ?`
		args = append(args, string(kind))
	}

	query += ` ORDER BY CASE WHEN s.name = ? THEN 0 ELSE 1 END, s.name LIMIT ?`
	args = append(args, name, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "lookup symbol", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// ReferencesTo returns every reference resolved to symbolID.
func (s *SQLiteMetadataStore) ReferencesTo(ctx context.Context, symbolID string) ([]*Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol_id, resolved_name, file_id, line, col, kind FROM references_ WHERE symbol_id = ?
	`, symbolID)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "query references", err)
	}
	defer rows.Close()

	var out []*Reference
	for rows.Next() {
		var ref Reference
		var kind string
		if err := rows.Scan(&ref.ID, &ref.SymbolID, &ref.ResolvedName, &ref.FileID, &ref.Line, &ref.Col, &kind); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan reference row", err)
		}
		ref.Kind = ReferenceKind(kind)
		out = append(out, &ref)
	}
	return out, rows.Err()
}

// GetState reads a runtime state value (e.g. index checkpoint, embedding model).
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", clerrors.New(clerrors.NotFound, "state key not found").WithData("key", key)
	}
	if err != nil {
		return "", clerrors.Wrap(clerrors.Internal, "get state", err)
	}
	return value, nil
}

// SetState writes a runtime state value.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "metadata store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "set state", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
