package treesitter

import (
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// Capture is one materialized query match, ready for a plugin's extractor
// to consume without touching the underlying tree-sitter node.
type Capture struct {
	Name      string
	StartByte uint32
	EndByte   uint32
	StartRow  uint32
	EndRow    uint32
	Text      string
}

type queryKey struct {
	language string
	purpose  string
}

// QueryCache compiles and caches tree-sitter queries keyed by
// (language, purpose), e.g. ("go", "definitions"). Compilation happens
// once per key; lookups are read-mostly and safe for concurrent use.
type QueryCache struct {
	mu      sync.RWMutex
	queries map[queryKey]*sitter.Query
}

// NewQueryCache creates an empty query cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{queries: make(map[queryKey]*sitter.Query)}
}

// Get returns the compiled query for (language, purpose), compiling and
// caching it against pattern on a miss.
func (c *QueryCache) Get(language, purpose, pattern string, lang *sitter.Language) (*sitter.Query, error) {
	key := queryKey{language, purpose}

	c.mu.RLock()
	q, ok := c.queries[key]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queries[key]; ok { // lost a race against another compiler
		return q, nil
	}

	q, err := sitter.NewQuery([]byte(pattern), lang)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.ParseError, "compile tree-sitter query", err).
			WithData("language", language).WithData("purpose", purpose)
	}
	c.queries[key] = q
	return q, nil
}

// Run executes query against tree's root node and materializes every
// capture as byte ranges plus their source text, so callers never need to
// hold a live reference into the tree-sitter tree.
func Run(tree *Tree, query *sitter.Query) []Capture {
	if tree.raw == nil {
		return nil
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.raw.RootNode())

	var captures []Capture
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		for _, qc := range match.Captures {
			node := qc.Node
			captures = append(captures, Capture{
				Name:      query.CaptureNameForId(qc.Index),
				StartByte: node.StartByte(),
				EndByte:   node.EndByte(),
				StartRow:  node.StartPoint().Row,
				EndRow:    node.EndPoint().Row,
				Text:      string(tree.Source[node.StartByte():node.EndByte()]),
			})
		}
	}
	return captures
}

// Purge drops every compiled query, e.g. on a grammar hot-reload.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = make(map[queryKey]*sitter.Query)
}
