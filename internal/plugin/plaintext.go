package plugin

import (
	"context"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
)

// PlaintextPlugin is the fallback for formats with no structural symbols
// worth extracting (plain text, JSON, YAML, TOML, Dockerfile, Makefile,
// and any other unrecognized text). It contributes no symbols, imports or
// references; the indexed file still reaches the lexical index through the
// same store.IndexShard path, so it remains full-text searchable.
type PlaintextPlugin struct {
	langID string
}

// NewPlaintextPlugin constructs the no-op plugin for langID.
func NewPlaintextPlugin(langID string) *PlaintextPlugin {
	return &PlaintextPlugin{langID: langID}
}

func (p *PlaintextPlugin) LanguageID() string { return p.langID }

func (p *PlaintextPlugin) Supports(path string) bool { return true }

func (p *PlaintextPlugin) EstimatedBytes() int64 { return 4 * 1024 }

func (p *PlaintextPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	return &store.IndexShard{}, nil
}

func (p *PlaintextPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, clerrors.New(clerrors.Internal, "language has no symbol table")
}

func (p *PlaintextPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
	return nil, nil
}

var _ langreg.Plugin = (*PlaintextPlugin)(nil)
