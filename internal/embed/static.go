package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// codeStopWords holds identifiers that carry no semantic weight on their
// own (language keywords, not symbol/variable names).
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var identifierPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// hashVectorizer turns text into a fixed-width vector by hashing
// code-aware tokens and character n-grams into buckets, with no model and
// no network call. It trades semantic accuracy for always being
// available: the fallback path used whenever a real embedding provider is
// absent or down.
type hashVectorizer struct {
	dims int
}

func (h hashVectorizer) vectorize(text string) []float32 {
	vector := make([]float32, h.dims)

	for _, token := range identifierTokens(text) {
		vector[h.bucket(token)] += tokenWeight
	}
	for _, gram := range characterNgrams(foldToAlnum(text), ngramSize) {
		vector[h.bucket(gram)] += ngramWeight
	}

	return vector
}

func (h hashVectorizer) bucket(s string) int {
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(s))
	return int(sum.Sum64() % uint64(h.dims))
}

// identifierTokens extracts alphanumeric runs, splits each on
// camelCase/snake_case boundaries, lowercases, and drops stop words.
func identifierTokens(text string) []string {
	var tokens []string
	for _, word := range identifierPattern.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if lower != "" && !codeStopWords[lower] {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitIdentifier breaks a snake_case or camelCase identifier into its
// component words.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, segment := range strings.Split(token, "_") {
			if segment != "" {
				parts = append(parts, splitCamelCase(segment)...)
			}
		}
		return parts
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var words []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

// foldToAlnum lowercases text and strips everything but letters and
// digits, so n-grams aren't fragmented by punctuation/whitespace.
func foldToAlnum(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func characterNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	grams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		grams = append(grams, text[i:i+n])
	}
	return grams
}

// StaticEmbedder generates deterministic embeddings from a hash-based
// vectorizer. It needs no network access and no model download, so it
// always satisfies Embedder.Available and serves as the default when no
// other provider is configured.
type StaticEmbedder struct {
	mu        sync.RWMutex
	closed    bool
	vectorize hashVectorizer
}

// NewStaticEmbedder returns a 256-dimensional static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{vectorize: hashVectorizer{dims: StaticDimensions}}
}

func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.vectorize.dims), nil
	}
	return normalizeVector(e.vectorize.vectorize(trimmed)), nil
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int { return e.vectorize.dims }

func (e *StaticEmbedder) ModelName() string { return "static" }

func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
