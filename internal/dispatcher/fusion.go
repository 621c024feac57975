package dispatcher

import "sort"

// DefaultRRFConstant is the k in RRF's 1/(k+rank) term. Generalized from
// internal/search/fusion.go's two-source RRFFusion (BM25 + vector) to the
// three lexical/fuzzy/vector retrievers the hybrid algorithm names.
const DefaultRRFConstant = 60

// Weights are the per-retriever rank-fusion weights, exposed as
// configuration and defaulting to {lexical: 1.0, fuzzy: 1.0, vector: 1.0}.
type Weights struct {
	Lexical float64
	Fuzzy   float64
	Vector  float64
}

// DefaultWeights returns the default fusion weights.
func DefaultWeights() Weights {
	return Weights{Lexical: 1.0, Fuzzy: 1.0, Vector: 1.0}
}

// FusedResult is one candidate after cross-retriever fusion, carrying
// per-retriever provenance for the "merged score with
// per-retriever provenance" requirement.
type FusedResult struct {
	Candidate
	Score        float64
	LexicalScore float64
	FuzzyScore   float64
	VectorScore  float64
	InLexical    bool
	InFuzzy      bool
	InVector     bool
}

// Fuser combines up to three retrievers' ranked candidate lists using
// Reciprocal Rank Fusion: score(d) = Σ_r weight_r / (k + rank_r(d)).
type Fuser struct {
	K int
}

// NewFuser constructs a Fuser; k<=0 defaults to DefaultRRFConstant.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k}
}

// Fuse normalizes each retriever's scores to [0,1] by min-max within that
// retriever's own result set, then combines rankings by RRF, tie-breaking
// by relative path then line for determinism.
func (f *Fuser) Fuse(lexical, fuzzy, vector []Candidate, weights Weights) []*FusedResult {
	f.normalize(lexical)
	f.normalize(fuzzy)
	f.normalize(vector)

	byKey := make(map[string]*FusedResult)

	apply := func(candidates []Candidate, weight float64, mark func(*FusedResult, float64)) {
		for rank, c := range candidates {
			r, ok := byKey[c.Key]
			if !ok {
				r = &FusedResult{Candidate: c}
				byKey[c.Key] = r
			} else {
				r.merge(c)
			}
			r.Score += weight / float64(f.K+rank+1)
			mark(r, c.Score)
		}
	}

	apply(lexical, weights.Lexical, func(r *FusedResult, s float64) { r.InLexical = true; r.LexicalScore = s })
	apply(fuzzy, weights.Fuzzy, func(r *FusedResult, s float64) { r.InFuzzy = true; r.FuzzyScore = s })
	apply(vector, weights.Vector, func(r *FusedResult, s float64) { r.InVector = true; r.VectorScore = s })

	results := make([]*FusedResult, 0, len(byKey))
	for _, r := range byKey {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].RelativePath != results[j].RelativePath {
			return results[i].RelativePath < results[j].RelativePath
		}
		return results[i].Line < results[j].Line
	})
	return results
}

// merge fills in any fields the receiver's first occurrence left empty
// (e.g. a vector hit supplying RelativePath for a key first seen from the
// fuzzy retriever, which only knows a SymbolID).
func (r *FusedResult) merge(c Candidate) {
	if r.RelativePath == "" {
		r.RelativePath = c.RelativePath
	}
	if r.Line == 0 {
		r.Line = c.Line
	}
	if r.SymbolID == "" {
		r.SymbolID = c.SymbolID
	}
	if r.SymbolName == "" {
		r.SymbolName = c.SymbolName
	}
	if r.Snippet == "" {
		r.Snippet = c.Snippet
	}
}

func (f *Fuser) normalize(candidates []Candidate) {
	if len(candidates) == 0 {
		return
	}
	min, max := candidates[0].Score, candidates[0].Score
	for _, c := range candidates {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	spread := max - min
	for i := range candidates {
		if spread == 0 {
			candidates[i].Score = 1
			continue
		}
		candidates[i].Score = (candidates[i].Score - min) / spread
	}
}
