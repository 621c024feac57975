package store

import "testing"

func newTestFuzzyIndex(t *testing.T) *BleveFuzzySymbolIndex {
	t.Helper()
	idx, err := NewBleveFuzzySymbolIndex("")
	if err != nil {
		t.Fatalf("NewBleveFuzzySymbolIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestFuzzySymbolIndexFindsTypos(t *testing.T) {
	idx := newTestFuzzyIndex(t)

	if err := idx.Index("sym1", "calculateSum", ""); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Index("sym2", "parseConfig", ""); err != nil {
		t.Fatalf("Index: %v", err)
	}

	ids, err := idx.Search("calculatesum", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == "sym1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sym1 among fuzzy results, got %v", ids)
	}
}

func TestFuzzySymbolIndexDelete(t *testing.T) {
	idx := newTestFuzzyIndex(t)

	if err := idx.Index("sym1", "calculateSum", ""); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Delete("sym1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ids, err := idx.Search("calculateSum", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no results after delete, got %v", ids)
	}
}

func TestFuzzySymbolIndexEmptyQuery(t *testing.T) {
	idx := newTestFuzzyIndex(t)
	ids, err := idx.Search("", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty query to return no results, got %v", ids)
	}
}
