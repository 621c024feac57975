package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// SQLiteLexicalIndex implements LexicalIndex over two FTS5 virtual tables —
// fts_code for file content and fts_symbols for symbol name/doc — matching
// the schema below. WAL mode gives it concurrent multi-process
// read access while a single writer connection holds the write lock.
type SQLiteLexicalIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	stopWords map[string]struct{}
	closed    bool
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex opens or creates the FTS index at path. An empty
// path opens an in-memory index for tests.
func NewSQLiteLexicalIndex(path string, stopWords []string) (*SQLiteLexicalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "create lexical index directory", err).WithPath(dir)
		}
		if err := validateLexicalIntegrity(path); err != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			os.Remove(path)
			os.Remove(path + "-wal")
			os.Remove(path + "-shm")
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.StoreBusy, "open lexical index", err).WithPath(path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, clerrors.Wrap(clerrors.Internal, "set lexical index pragma", err)
		}
	}

	idx := &SQLiteLexicalIndex{db: db, path: path, stopWords: BuildStopWordMap(stopWords)}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func validateLexicalIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *SQLiteLexicalIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_code USING fts5(
		file_id UNINDEXED,
		repo_id UNINDEXED,
		language UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_symbols USING fts5(
		symbol_id UNINDEXED,
		name,
		doc,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS fts_code_ids (file_id TEXT PRIMARY KEY);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "initialize lexical index schema", err)
	}
	return nil
}

func (s *SQLiteLexicalIndex) tokenize(text string) string {
	tokens := TokenizeCode(text)
	tokens = FilterStopWords(tokens, s.stopWords)
	return strings.Join(tokens, " ")
}

// IndexCode indexes (or reindexes) the content of a file for lexical search.
func (s *SQLiteLexicalIndex) IndexCode(ctx context.Context, fileID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "begin lexical index transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_code WHERE file_id = ?`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete stale code index entry", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fts_code(file_id, content) VALUES (?, ?)`, fileID, s.tokenize(content)); err != nil {
		return clerrors.Wrap(clerrors.Internal, "insert code index entry", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO fts_code_ids(file_id) VALUES (?)`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "track code index file id", err)
	}

	if err := tx.Commit(); err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "commit lexical index transaction", err)
	}
	return nil
}

// IndexSymbol indexes a symbol's name and doc comment for fuzzy/FTS lookup.
func (s *SQLiteLexicalIndex) IndexSymbol(ctx context.Context, symbolID, name, doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "begin lexical index transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_symbols WHERE symbol_id = ?`, symbolID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete stale symbol index entry", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fts_symbols(symbol_id, name, doc) VALUES (?, ?, ?)`, symbolID, name, doc); err != nil {
		return clerrors.Wrap(clerrors.Internal, "insert symbol index entry", err)
	}
	if err := tx.Commit(); err != nil {
		return clerrors.Wrap(clerrors.StoreBusy, "commit lexical index transaction", err)
	}
	return nil
}

// DeleteFile removes a file's code index entry.
func (s *SQLiteLexicalIndex) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "lexical index is closed")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fts_code WHERE file_id = ?`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete code index entry", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fts_code_ids WHERE file_id = ?`, fileID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete code index id entry", err)
	}
	return nil
}

// DeleteSymbol removes a symbol's index entry.
func (s *SQLiteLexicalIndex) DeleteSymbol(ctx context.Context, symbolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return clerrors.New(clerrors.Internal, "lexical index is closed")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fts_symbols WHERE symbol_id = ?`, symbolID); err != nil {
		return clerrors.Wrap(clerrors.Internal, "delete symbol index entry", err)
	}
	return nil
}

// SearchCode runs a BM25-scored full-text query over indexed file content.
// FTS5's bm25() returns negative values (lower = better); they are negated
// so higher scores are better, matching the rest of the dispatcher.
func (s *SQLiteLexicalIndex) SearchCode(ctx context.Context, repoID, queryStr string, limit int, languageFilter string) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "lexical index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*Hit{}, nil
	}

	processed := s.tokenize(queryStr)
	if processed == "" {
		return []*Hit{}, nil
	}

	query := `
		SELECT file_id, bm25(fts_code) as score
		FROM fts_code
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, processed, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*Hit{}, nil
		}
		return nil, clerrors.Wrap(clerrors.Internal, "lexical search", err)
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		var fileID string
		var score float64
		if err := rows.Scan(&fileID, &score); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan lexical search result", err)
		}
		hits = append(hits, &Hit{FileID: fileID, Score: -score})
	}
	return hits, nil
}

// SearchSymbolsFuzzy runs an FTS5 prefix match (name*) against symbol
// names/docs, ranked by bm25. It is the backend of the dispatcher's fuzzy
// retriever; no trigram index is involved.
func (s *SQLiteLexicalIndex) SearchSymbolsFuzzy(ctx context.Context, name string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "lexical index is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol_id FROM fts_symbols WHERE fts_symbols MATCH ? ORDER BY bm25(fts_symbols) LIMIT ?`,
		name+"*", limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []string{}, nil
		}
		return nil, clerrors.Wrap(clerrors.Internal, "fuzzy symbol search", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan fuzzy symbol result", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AllFileIDs returns every file id present in the code index, for
// consistency checks against the metadata store.
func (s *SQLiteLexicalIndex) AllFileIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, clerrors.New(clerrors.Internal, "lexical index is closed")
	}
	rows, err := s.db.Query(`SELECT file_id FROM fts_code_ids ORDER BY file_id`)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "list lexical index file ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, clerrors.Wrap(clerrors.Internal, "scan lexical index file id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteLexicalIndex) Close() error {
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
