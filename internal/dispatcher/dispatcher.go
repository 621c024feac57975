package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/indexengine"
	"github.com/codelens-dev/codelens/internal/semantic"
	"github.com/codelens-dev/codelens/internal/store"
)

// Mode selects which retrievers Search combines.
type Mode string

const (
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Deadlines bounds how long Search waits on each retriever before
// dropping its results.
type Deadlines struct {
	Lexical time.Duration
	Fuzzy   time.Duration
	Vector  time.Duration
}

// DefaultDeadlines holds the default per-retriever budgets: 150/150/250ms.
func DefaultDeadlines() Deadlines {
	return Deadlines{Lexical: 150 * time.Millisecond, Fuzzy: 150 * time.Millisecond, Vector: 250 * time.Millisecond}
}

// Config wires a Dispatcher to one repository's stores and engine.
type Config struct {
	RepoID   string
	RootPath string

	Metadata store.MetadataStore
	Lexical  store.LexicalIndex
	Semantic *semantic.Indexer // nil disables the vector retriever

	Engine *indexengine.Engine

	Weights        Weights
	RRFConstant    int
	Deadlines      Deadlines
	QueryCacheSize int
	QueryCacheTTL  time.Duration
}

// SearchResult is one result item returned to the core API caller.
type SearchResult struct {
	RelativePath string
	Line         int
	SymbolID     string
	SymbolName   string
	Snippet      string
	Score        float64
	Provenance   []string // which retrievers contributed: "lexical", "fuzzy", "vector"
}

// SearchOutcome wraps Search's results with the degradation flag spec
// invariant 9 and §7 require: hybrid search never fails with
// VectorStoreUnavailable, it sets Degraded instead.
type SearchOutcome struct {
	Results  []SearchResult
	Degraded bool
}

type cacheKey struct {
	query string
	mode  Mode
	lang  string
	limit int
}

// Dispatcher implements the core indexing and search API: index/remove/move,
// lookup_symbol, search, find_references and get_outline, plus the hybrid
// rank-fusion query planner.
type Dispatcher struct {
	cfg        Config
	fuser      *Fuser
	lexical    *lexicalRetriever
	fuzzy      *fuzzyRetriever
	vector     *vectorRetriever
	queryCache *lru.LRU[cacheKey, *SearchOutcome]
}

// New constructs a Dispatcher from cfg, applying spec defaults for any
// zero-valued weight/deadline/cache fields.
func New(cfg Config) *Dispatcher {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Deadlines == (Deadlines{}) {
		cfg.Deadlines = DefaultDeadlines()
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 10000
	}
	if cfg.QueryCacheTTL <= 0 {
		cfg.QueryCacheTTL = 5 * time.Minute
	}

	return &Dispatcher{
		cfg:        cfg,
		fuser:      NewFuser(cfg.RRFConstant),
		lexical:    &lexicalRetriever{lexical: cfg.Lexical},
		fuzzy:      &fuzzyRetriever{lexical: cfg.Lexical, metadata: cfg.Metadata},
		vector:     &vectorRetriever{semantic: cfg.Semantic},
		queryCache: lru.NewLRU[cacheKey, *SearchOutcome](cfg.QueryCacheSize, nil, cfg.QueryCacheTTL),
	}
}

// IndexFile (re)indexes relPath: structured symbols/references/imports via
// the index engine (Component F), then chunks+embeds it into the semantic
// index (Component G) when enabled. A semantic failure is logged and
// never fails the call.
func (d *Dispatcher) IndexFile(ctx context.Context, relPath string) (bool, error) {
	indexed, err := d.cfg.Engine.IndexFile(ctx, relPath)
	if indexed {
		defer d.invalidateCache()
	}
	if err != nil || !indexed || d.cfg.Semantic == nil {
		return indexed, err
	}

	absPath := filepath.Join(d.cfg.RootPath, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return indexed, nil // file vanished between engine write and semantic read; not fatal
	}
	file, err := d.cfg.Metadata.GetFile(ctx, d.cfg.RepoID, relPath)
	if err != nil {
		return indexed, nil
	}
	if _, err := d.cfg.Semantic.IndexFile(ctx, relPath, file.Language, file.ContentHash, content); err != nil {
		slog.Warn("semantic indexing failed, continuing lexical-only", slog.String("path", relPath), slog.String("error", err.Error()))
	}
	return indexed, nil
}

// IndexDirectory walks root and indexes every eligible file under it.
func (d *Dispatcher) IndexDirectory(ctx context.Context, excludePatterns []string) (int, error) {
	n, err := d.cfg.Engine.IndexAll(ctx, excludePatterns)
	d.invalidateCache()
	return n, err
}

// RemoveFile deletes relPath's derived rows, lexical entries and vector
// points.
func (d *Dispatcher) RemoveFile(ctx context.Context, relPath string) error {
	if err := d.cfg.Engine.RemoveFile(ctx, relPath); err != nil {
		return err
	}
	if d.cfg.Semantic != nil {
		if err := d.cfg.Semantic.RemoveFile(ctx, relPath); err != nil {
			slog.Warn("failed to remove semantic points", slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}
	d.invalidateCache()
	return nil
}

// MoveFile relabels oldRelative to newRelative. When the content is
// unchanged (newContentHash matches the stored file's hash), Storage's
// StoreFile move-detection (invoked transparently by IndexFile) renames
// the row in place without a re-parse, and the semantic points are
// relabeled without re-embedding.
func (d *Dispatcher) MoveFile(ctx context.Context, oldRelative, newRelative, newContentHash string) error {
	if d.cfg.Semantic != nil {
		if old, err := d.cfg.Metadata.GetFile(ctx, d.cfg.RepoID, oldRelative); err == nil && old.ContentHash == newContentHash {
			// content-identical move: carry vectors forward without an
			// embedder call. IndexFile below still runs first so the
			// metadata row exists at the new path before this executes.
			if _, err := d.cfg.Engine.IndexFile(ctx, newRelative); err != nil {
				return err
			}
			if err := d.cfg.Semantic.MoveFile(ctx, oldRelative, newRelative, newContentHash); err != nil {
				slog.Warn("failed to relabel semantic points on move", slog.String("old", oldRelative), slog.String("new", newRelative), slog.String("error", err.Error()))
			}
			d.invalidateCache()
			return nil
		}
	}
	_, err := d.cfg.Engine.IndexFile(ctx, newRelative)
	d.invalidateCache()
	return err
}

// LookupSymbol resolves name to matching symbols.
func (d *Dispatcher) LookupSymbol(ctx context.Context, name string, kind store.SymbolKind, fuzzy bool, limit int) ([]*store.Symbol, error) {
	return d.cfg.Metadata.LookupSymbol(ctx, d.cfg.RepoID, name, kind, fuzzy, limit)
}

// FindReferences returns references to the symbol identified by
// symbolIdentifier (a symbol id). When includeDefinitions is true, the
// defining symbol itself is prepended as a synthetic self-reference.
func (d *Dispatcher) FindReferences(ctx context.Context, symbolIdentifier string, includeDefinitions bool) ([]*store.Reference, error) {
	refs, err := d.cfg.Metadata.ReferencesTo(ctx, symbolIdentifier)
	if err != nil {
		return nil, err
	}
	if !includeDefinitions {
		return refs, nil
	}
	sym, err := d.cfg.Metadata.GetSymbolByID(ctx, symbolIdentifier)
	if err != nil {
		return refs, nil
	}
	def := &store.Reference{
		ID:           "def:" + sym.ID,
		SymbolID:     sym.ID,
		ResolvedName: sym.Name,
		FileID:       sym.FileID,
		Line:         sym.LineStart,
		Col:          sym.ColStart,
		Kind:         store.RefOther,
	}
	return append([]*store.Reference{def}, refs...), nil
}

// Outline is the get_outline payload: every symbol defined in one file.
type Outline struct {
	Symbols []*store.Symbol
}

// GetOutline returns every symbol defined in relPath, in source order.
func (d *Dispatcher) GetOutline(ctx context.Context, relPath string) (*Outline, error) {
	file, err := d.cfg.Metadata.GetFile(ctx, d.cfg.RepoID, relPath)
	if err != nil {
		return nil, err
	}
	symbols, err := d.cfg.Metadata.GetSymbolsByFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	return &Outline{Symbols: symbols}, nil
}

// Status is the get_status() payload.
type Status struct {
	RepoID        string
	RootPath      string
	LastIndexedAt time.Time
}

// GetStatus reports the repository's current indexing state.
func (d *Dispatcher) GetStatus(ctx context.Context) (*Status, error) {
	repo, err := d.cfg.Metadata.GetRepository(ctx, d.cfg.RepoID)
	if err != nil {
		return nil, err
	}
	return &Status{RepoID: repo.ID, RootPath: repo.RootPath, LastIndexedAt: repo.LastIndexedAt}, nil
}

func (d *Dispatcher) invalidateCache() {
	d.queryCache.Purge()
}

// Search runs the hybrid retrieval + rank-fusion pipeline.
// Each retriever runs under its own soft deadline; a retriever that misses
// its deadline or errors contributes nothing rather than failing the
// query, unless every retriever fails, in which case Search returns an
// Internal error.
func (d *Dispatcher) Search(ctx context.Context, query string, mode Mode, limit int, languageFilter string) (*SearchOutcome, error) {
	key := cacheKey{query: query, mode: mode, lang: languageFilter, limit: limit}
	if cached, ok := d.queryCache.Get(key); ok {
		return cached, nil
	}

	wantLexical := mode == ModeLexical || mode == ModeHybrid
	wantFuzzy := mode == ModeHybrid
	wantVector := (mode == ModeSemantic || mode == ModeHybrid) && d.cfg.Semantic != nil

	fanOutLimit := limit * 3
	if fanOutLimit <= 0 {
		fanOutLimit = limit
	}

	var lexCands, fuzCands, vecCands []Candidate
	var lexErr, fuzErr, vecErr error
	var attempted int

	d.lexical.langFilter = languageFilter
	g, _ := errgroup.WithContext(ctx)
	if wantLexical {
		attempted++
		g.Go(func() error {
			lexCands, lexErr = d.runWithDeadline(ctx, d.cfg.Deadlines.Lexical, func(rctx context.Context) ([]Candidate, error) {
				cands, err := d.lexical.Retrieve(rctx, d.cfg.RepoID, query, fanOutLimit)
				return d.resolveLexicalPaths(rctx, cands), err
			})
			return nil
		})
	}
	if wantFuzzy {
		attempted++
		g.Go(func() error {
			fuzCands, fuzErr = d.runWithDeadline(ctx, d.cfg.Deadlines.Fuzzy, func(rctx context.Context) ([]Candidate, error) {
				cands, err := d.fuzzy.Retrieve(rctx, d.cfg.RepoID, query, fanOutLimit)
				return d.resolveFuzzySymbols(rctx, cands), err
			})
			return nil
		})
	}
	if wantVector {
		attempted++
		g.Go(func() error {
			vecCands, vecErr = d.runWithDeadline(ctx, d.cfg.Deadlines.Vector, func(rctx context.Context) ([]Candidate, error) {
				return d.vector.Retrieve(rctx, d.cfg.RepoID, query, fanOutLimit)
			})
			return nil
		})
	}
	_ = g.Wait()

	degraded := wantVector && (vecErr != nil || len(vecCands) == 0 && d.cfg.Semantic != nil && d.cfg.Semantic.Degraded())
	failures := 0
	if wantLexical && lexErr != nil {
		failures++
	}
	if wantFuzzy && fuzErr != nil {
		failures++
	}
	if wantVector && vecErr != nil {
		failures++
	}
	if attempted > 0 && failures == attempted {
		return nil, clerrors.New(clerrors.Internal, "all retrievers failed").
			WithData("lexical_error", fmt.Sprint(lexErr)).
			WithData("fuzzy_error", fmt.Sprint(fuzErr)).
			WithData("vector_error", fmt.Sprint(vecErr))
	}

	fused := d.fuser.Fuse(lexCands, fuzCands, vecCands, d.cfg.Weights)
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]SearchResult, 0, len(fused))
	for _, f := range fused {
		results = append(results, SearchResult{
			RelativePath: f.RelativePath,
			Line:         f.Line,
			SymbolID:     f.SymbolID,
			SymbolName:   f.SymbolName,
			Snippet:      f.Snippet,
			Score:        f.Score,
			Provenance:   provenanceOf(f),
		})
	}

	outcome := &SearchOutcome{Results: results, Degraded: degraded}
	d.queryCache.Add(key, outcome)
	return outcome, nil
}

func provenanceOf(f *FusedResult) []string {
	var p []string
	if f.InLexical {
		p = append(p, "lexical")
	}
	if f.InFuzzy {
		p = append(p, "fuzzy")
	}
	if f.InVector {
		p = append(p, "vector")
	}
	return p
}

// runWithDeadline bounds fn by a soft deadline: a timeout drops the
// retriever's contribution rather than failing the whole query (spec
// §4.I "Deadlines").
func (d *Dispatcher) runWithDeadline(ctx context.Context, deadline time.Duration, fn func(context.Context) ([]Candidate, error)) ([]Candidate, error) {
	rctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		cands []Candidate
		err   error
	}
	done := make(chan result, 1)
	go func() {
		cands, err := fn(rctx)
		done <- result{cands, err}
	}()

	select {
	case r := <-done:
		return r.cands, r.err
	case <-rctx.Done():
		return nil, rctx.Err()
	}
}

// resolveLexicalPaths replaces the FileID each lexicalRetriever candidate
// temporarily carries in RelativePath with an actual relative path.
func (d *Dispatcher) resolveLexicalPaths(ctx context.Context, candidates []Candidate) []Candidate {
	resolved := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		file, err := d.cfg.Metadata.GetFileByID(ctx, c.RelativePath)
		if err != nil || file.IsDeleted {
			continue
		}
		c.RelativePath = file.RelativePath
		c.Key = candidateKey(file.RelativePath, c.Line, "")
		resolved = append(resolved, c)
	}
	return resolved
}

// resolveFuzzySymbols joins each fuzzy candidate's SymbolID back to a
// name/path/line via the metadata store's symbol and file tables.
func (d *Dispatcher) resolveFuzzySymbols(ctx context.Context, candidates []Candidate) []Candidate {
	resolved := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		sym, err := d.cfg.Metadata.GetSymbolByID(ctx, c.SymbolID)
		if err != nil {
			continue
		}
		file, err := d.cfg.Metadata.GetFileByID(ctx, sym.FileID)
		if err != nil || file.IsDeleted {
			continue
		}
		c.RelativePath = file.RelativePath
		c.Line = sym.LineStart
		c.SymbolName = sym.Name
		c.Key = candidateKey("", 0, sym.ID)
		resolved = append(resolved, c)
	}
	return resolved
}
