package plugin

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/internal/treesitter"
)

// GenericPlugin extracts top-level and nested definitions from any
// tree-sitter-backed language using a language-agnostic node-type table.
// It does not resolve references or parse language-specific import
// syntax; that richness is reserved for specialized plugins.
type GenericPlugin struct {
	mu      sync.Mutex
	langID  string
	lang    *sitter.Language
	config  *nodeConfig
	parser  *treesitter.Parser
}

// NewGenericPlugin builds a GenericPlugin for the given language, using
// cfg's node-type tables (config.go) for symbol classification. A nil cfg
// means the language has no recognized structural symbols — it still
// parses cleanly but never yields anything beyond the minimal plaintext
// behavior.
func NewGenericPlugin(langID string, tsLang *sitter.Language, cfg *nodeConfig) *GenericPlugin {
	if cfg == nil {
		cfg = &nodeConfig{}
	}
	return &GenericPlugin{
		langID: langID,
		lang:   tsLang,
		config: cfg,
		parser: treesitter.NewParser(tsLang),
	}
}

func (g *GenericPlugin) LanguageID() string { return g.langID }

func (g *GenericPlugin) Supports(path string) bool { return true }

func (g *GenericPlugin) EstimatedBytes() int64 { return estimatedParserBytes }

func (g *GenericPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tree, err := g.parser.Parse(ctx, content, g.langID)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	shard := &store.IndexShard{}
	tree.Root.Walk(func(n *treesitter.Node) bool {
		if sym := g.extractSymbol(n, content); sym != nil {
			shard.Symbols = append(shard.Symbols, sym)
		}
		if imp := g.extractImport(n, content); imp != nil {
			shard.Imports = append(shard.Imports, imp)
		}
		return true
	})
	if tree.Root.HasError {
		shard.ParseErrors++
	}
	return shard, nil
}

func (g *GenericPlugin) extractSymbol(n *treesitter.Node, source []byte) *store.Symbol {
	for _, pair := range g.config.kindsInOrder() {
		if !contains(pair.types, n.Type) {
			continue
		}
		name := g.extractName(n, source)
		if name == "" {
			return nil
		}
		return &store.Symbol{
			Name:      name,
			Kind:      pair.kind,
			LineStart: int(n.StartPoint.Row) + 1,
			LineEnd:   int(n.EndPoint.Row) + 1,
			ColStart:  int(n.StartPoint.Column),
			ColEnd:    int(n.EndPoint.Column),
			Signature: signatureLine(n, source),
			Doc:       lineCommentDoc(n, source, "//", "#"),
		}
	}
	return nil
}

// extractName walks one level deeper than firstIdentifier for the common
// "wrapper node holds a spec/declarator child which holds the name"
// shape (Rust's struct_item > type_identifier is direct, but several
// grammars nest one level, e.g. Java's enum_declaration > identifier is
// direct while C's struct_specifier > type_identifier is also direct; the
// one-level fallback covers the remaining nested cases without a
// per-language table).
func (g *GenericPlugin) extractName(n *treesitter.Node, source []byte) string {
	if name := firstIdentifier(n, source); name != "" {
		return name
	}
	for _, child := range n.Children {
		if name := firstIdentifier(child, source); name != "" {
			return name
		}
	}
	return ""
}

func (g *GenericPlugin) extractImport(n *treesitter.Node, source []byte) *store.Import {
	if !contains(g.config.ImportTypes, n.Type) {
		return nil
	}
	text := strings.TrimSpace(n.Content(source))
	if text == "" {
		return nil
	}
	return &store.Import{
		ImportedPath: text,
		Line:         int(n.StartPoint.Row) + 1,
	}
}

func (g *GenericPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, clerrors.New(clerrors.Internal, "GetDefinition requires an indexed symbol table; use store.MetadataStore.LookupSymbol")
}

func (g *GenericPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tree, err := g.parser.Parse(ctx, fileContent, g.langID)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var refs []*store.Reference
	tree.Root.Walk(func(n *treesitter.Node) bool {
		if !contains(g.config.CallTypes, n.Type) {
			return true
		}
		callee := firstIdentifier(n, fileContent)
		if callee == "" {
			for _, child := range n.Children {
				if callee = firstIdentifier(child, fileContent); callee != "" {
					break
				}
			}
		}
		if callee == name {
			refs = append(refs, &store.Reference{
				ResolvedName: name,
				Line:         int(n.StartPoint.Row) + 1,
				Col:          int(n.StartPoint.Column),
				Kind:         store.RefCall,
			})
		}
		return true
	})
	return refs, nil
}

var _ langreg.Plugin = (*GenericPlugin)(nil)
