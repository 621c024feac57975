// Package dispatcher implements the public core API: routing
// index/search/reference operations to the storage and semantic layers,
// and fusing lexical, fuzzy and vector retrievers into one ranked result
// list under bounded per-retriever deadlines.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/codelens-dev/codelens/internal/semantic"
	"github.com/codelens-dev/codelens/internal/store"
)

// Candidate is one scored hit from a single retriever, before fusion.
// Key is the dedup identity RRF fusion groups candidates by: a resolved
// symbol uses its SymbolID, an unresolved code hit uses path:line.
type Candidate struct {
	Key          string
	RelativePath string
	Line         int
	SymbolID     string
	SymbolName   string
	Snippet      string
	Score        float64
}

func candidateKey(relativePath string, line int, symbolID string) string {
	if symbolID != "" {
		return "sym:" + symbolID
	}
	return fmt.Sprintf("loc:%s:%d", relativePath, line)
}

// Retriever is the contract lexicalRetriever, fuzzyRetriever and
// vectorRetriever implement. The Dispatcher holds exactly these three in
// fixed fields and Fuser.Fuse takes exactly three candidate lists; there
// is no way to register an additional Retriever with a Dispatcher.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, repoID, query string, limit int) ([]Candidate, error)
}

// lexicalRetriever wraps store.LexicalIndex.SearchCode (BM25 over fts_code).
type lexicalRetriever struct {
	lexical store.LexicalIndex
	langFilter string
}

func (r *lexicalRetriever) Name() string { return "lexical" }

func (r *lexicalRetriever) Retrieve(ctx context.Context, repoID, query string, limit int) ([]Candidate, error) {
	hits, err := r.lexical.SearchCode(ctx, repoID, query, limit, r.langFilter)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		// RelativePath carries the raw FileID here; Dispatcher resolves it
		// to an actual relative path right after retrieval, before
		// candidates reach fusion, since the retriever layer only has
		// store.LexicalIndex (file-id-keyed), not store.MetadataStore.
		candidates = append(candidates, Candidate{
			Key:          "file:" + h.FileID + ":" + fmt.Sprint(h.Line),
			RelativePath: h.FileID,
			Line:         h.Line,
			Snippet:      h.Snippet,
			Score:        h.Score,
		})
	}
	return candidates, nil
}

// fuzzyRetriever wraps store.LexicalIndex.SearchSymbolsFuzzy (FTS5 prefix
// match over fts_symbols, ranked by bm25) plus a MetadataStore lookup to
// resolve names/lines.
type fuzzyRetriever struct {
	lexical  store.LexicalIndex
	metadata store.MetadataStore
}

func (r *fuzzyRetriever) Name() string { return "fuzzy" }

func (r *fuzzyRetriever) Retrieve(ctx context.Context, repoID, query string, limit int) ([]Candidate, error) {
	symbolIDs, err := r.lexical.SearchSymbolsFuzzy(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(symbolIDs))
	for rank, id := range symbolIDs {
		candidates = append(candidates, Candidate{
			Key:      "sym:" + id,
			SymbolID: id,
			// Score is synthesized from rank since SearchSymbolsFuzzy
			// returns an ordered id list, not raw scores; RRF only needs
			// rank order, so a descending placeholder preserves it
			// through the per-retriever min-max normalization step.
			Score: float64(limit - rank),
		})
	}
	return candidates, nil
}

// vectorRetriever wraps the optional semantic.Indexer's ANN search.
type vectorRetriever struct {
	semantic *semantic.Indexer
}

func (r *vectorRetriever) Name() string { return "vector" }

func (r *vectorRetriever) Retrieve(ctx context.Context, repoID, query string, limit int) ([]Candidate, error) {
	if r.semantic == nil {
		return nil, nil
	}
	results, err := r.semantic.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		point, ok := r.semantic.PointByID(res.ID)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Key:          candidateKey(point.RelativePath, point.Line, ""),
			RelativePath: point.RelativePath,
			Line:         point.Line,
			SymbolName:   point.Symbol,
			Score:        float64(res.Score),
		})
	}
	return candidates, nil
}
