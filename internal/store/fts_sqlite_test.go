package store

import (
	"context"
	"testing"
)

func newTestLexicalIndex(t *testing.T) *SQLiteLexicalIndex {
	t.Helper()
	idx, err := NewSQLiteLexicalIndex("", DefaultCodeStopWords)
	if err != nil {
		t.Fatalf("NewSQLiteLexicalIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndSearchCode(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	if err := idx.IndexCode(ctx, "file1", "func calculateSum(a, b int) int { return a + b }"); err != nil {
		t.Fatalf("IndexCode: %v", err)
	}
	if err := idx.IndexCode(ctx, "file2", "func parseConfig(path string) error { return nil }"); err != nil {
		t.Fatalf("IndexCode: %v", err)
	}

	hits, err := idx.SearchCode(ctx, "repo1", "calculate sum", 10, "")
	if err != nil {
		t.Fatalf("SearchCode: %v", err)
	}
	if len(hits) != 1 || hits[0].FileID != "file1" {
		t.Fatalf("expected one hit for file1, got %+v", hits)
	}
}

func TestIndexCodeReplacesOnReindex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	if err := idx.IndexCode(ctx, "file1", "func calculateSum() {}"); err != nil {
		t.Fatalf("IndexCode: %v", err)
	}
	if err := idx.IndexCode(ctx, "file1", "func parseConfig() {}"); err != nil {
		t.Fatalf("IndexCode reindex: %v", err)
	}

	hits, err := idx.SearchCode(ctx, "repo1", "calculate sum", 10, "")
	if err != nil {
		t.Fatalf("SearchCode: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected stale content to no longer match, got %+v", hits)
	}

	hits, err = idx.SearchCode(ctx, "repo1", "parse config", 10, "")
	if err != nil {
		t.Fatalf("SearchCode: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected reindexed content to match, got %+v", hits)
	}
}

func TestDeleteFileRemovesFromIndex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	if err := idx.IndexCode(ctx, "file1", "func calculateSum() {}"); err != nil {
		t.Fatalf("IndexCode: %v", err)
	}
	if err := idx.DeleteFile(ctx, "file1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	ids, err := idx.AllFileIDs()
	if err != nil {
		t.Fatalf("AllFileIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no file ids after delete, got %v", ids)
	}
}

func TestSearchCodeEmptyQuery(t *testing.T) {
	idx := newTestLexicalIndex(t)
	hits, err := idx.SearchCode(context.Background(), "repo1", "   ", 10, "")
	if err != nil {
		t.Fatalf("SearchCode: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected empty query to return no hits, got %+v", hits)
	}
}

func TestIndexAndSearchSymbolsFuzzy(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	if err := idx.IndexSymbol(ctx, "sym1", "HandleRequest", "handles an incoming request"); err != nil {
		t.Fatalf("IndexSymbol: %v", err)
	}

	ids, err := idx.SearchSymbolsFuzzy(ctx, "Handle", 10)
	if err != nil {
		t.Fatalf("SearchSymbolsFuzzy: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sym1" {
		t.Errorf("expected prefix match on sym1, got %v", ids)
	}
}
