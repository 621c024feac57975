package store

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// trigramAnalyzerName names the custom Bleve analyzer that backs symbol
// fuzzy lookup: lowercase, then explode into 3-grams, so "calcSum" and
// "calc_sum" share enough trigrams to match under typos or casing drift.
const trigramAnalyzerName = "symbol_trigram"

func init() {
	registry.RegisterAnalyzer(trigramAnalyzerName, trigramAnalyzerConstructor)
}

func trigramAnalyzerConstructor(_ *mapping.IndexMappingImpl, cache *registry.Cache) (interface{}, error) {
	tokenizer, err := cache.TokenizerNamed(single.Name)
	if err != nil {
		return nil, fmt.Errorf("trigram analyzer: tokenizer: %w", err)
	}
	lower, err := cache.TokenFilterNamed(lowercase.Name)
	if err != nil {
		return nil, fmt.Errorf("trigram analyzer: lowercase filter: %w", err)
	}
	gram, err := ngram.NewNgramFilter(3, 3)
	if err != nil {
		return nil, fmt.Errorf("trigram analyzer: ngram filter: %w", err)
	}
	return custom.NewCustomAnalyzer(tokenizer, []interface{}{lower, gram})
}

// trigramDocument is a symbol name/doc pair indexed for fuzzy lookup. The
// symbol_trigrams table is realized here as a Bleve
// index using the 3-gram analyzer above, rather than a literal trigram
// junction table — it gives the same ranked-by-overlap behavior with far
// less bookkeeping.
type trigramDocument struct {
	Name string `json:"name"`
	Doc  string `json:"doc"`
}

func trigramIndexMapping() *mapping.IndexMappingImpl { //nolint:ireturn
	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = trigramAnalyzerName

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", nameField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = trigramAnalyzerName
	return indexMapping
}

// BleveFuzzySymbolIndex provides trigram-ranked fuzzy symbol lookup. Only
// its own tests use it: MetadataStore.LookupSymbol and the dispatcher's
// fuzzy retriever do not consult it.
type BleveFuzzySymbolIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// NewBleveFuzzySymbolIndex opens or creates the fuzzy symbol index at path.
// An empty path creates an in-memory index for tests.
func NewBleveFuzzySymbolIndex(path string) (*BleveFuzzySymbolIndex, error) {
	mappingImpl := trigramIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mappingImpl)
	} else if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, mappingImpl)
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, clerrors.Wrap(clerrors.StoreCorrupt, "open fuzzy symbol index", err).WithPath(path)
	}

	return &BleveFuzzySymbolIndex{index: idx, path: path}, nil
}

// Index adds or replaces a symbol's fuzzy-lookup entry.
func (b *BleveFuzzySymbolIndex) Index(symbolID, name, doc string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return clerrors.New(clerrors.Internal, "fuzzy symbol index is closed")
	}
	return b.index.Index(symbolID, trigramDocument{Name: name, Doc: doc})
}

// Delete removes a symbol's fuzzy-lookup entry.
func (b *BleveFuzzySymbolIndex) Delete(symbolID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return clerrors.New(clerrors.Internal, "fuzzy symbol index is closed")
	}
	return b.index.Delete(symbolID)
}

// Search ranks indexed symbol ids by trigram overlap with name, most
// similar first.
func (b *BleveFuzzySymbolIndex) Search(name string, limit int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, clerrors.New(clerrors.Internal, "fuzzy symbol index is closed")
	}
	if strings.TrimSpace(name) == "" {
		return []string{}, nil
	}

	query := bleve.NewMatchQuery(name)
	query.Analyzer = trigramAnalyzerName
	search := bleve.NewSearchRequestOptions(query, limit, 0, false)

	result, err := b.index.Search(search)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.Internal, "fuzzy symbol search", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the underlying Bleve index.
func (b *BleveFuzzySymbolIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
