package langreg

import (
	"context"

	"github.com/codelens-dev/codelens/internal/store"
)

// Plugin is the capability set a language analyzer exposes.
// Implementations must be safe for concurrent use across different files;
// all per-repo state lives in the store, not in the plugin.
type Plugin interface {
	LanguageID() string
	Supports(path string) bool

	// Index extracts symbols, references and imports from content.
	Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error)

	// GetDefinition resolves name to a symbol, optionally scoped by a
	// surrounding context string (e.g. an enclosing class/module name).
	GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error)

	// FindReferencesIn scans fileContent for uses of name.
	FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error)

	// EstimatedBytes estimates this plugin instance's resident memory cost
	// (parser + compiled queries), used by the plugin cache's byte budget.
	EstimatedBytes() int64
}

// Factory constructs a Plugin instance for a language. Factories are
// registered once at startup and invoked by the plugin cache on a miss.
type Factory func(lang *Language) (Plugin, error)
