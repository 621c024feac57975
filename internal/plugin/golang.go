package plugin

import (
	"context"
	"strings"
	"sync"

	"github.com/smacker/go-tree-sitter/golang"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/internal/treesitter"
)

// GoPlugin is the specialized Go analyzer. Name extraction per node type
// is ported directly from internal/chunk/extractor.go's extractGoName,
// generalized to yield store.Symbol/store.Import/store.Reference instead
// of the teacher's chunk.Symbol.
type GoPlugin struct {
	mu     sync.Mutex
	parser *treesitter.Parser
}

// NewGoPlugin constructs the Go specialized plugin.
func NewGoPlugin() *GoPlugin {
	return &GoPlugin{parser: treesitter.NewParser(golang.GetLanguage())}
}

func (p *GoPlugin) LanguageID() string { return "go" }

func (p *GoPlugin) Supports(path string) bool { return strings.HasSuffix(path, ".go") }

func (p *GoPlugin) EstimatedBytes() int64 { return estimatedParserBytes }

func (p *GoPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, err := p.parser.Parse(ctx, content, "go")
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	shard := &store.IndexShard{}
	tree.Root.Walk(func(n *treesitter.Node) bool {
		if sym := p.extractSymbol(n, content); sym != nil {
			shard.Symbols = append(shard.Symbols, sym)
		}
		if imp := p.extractImport(n, content); imp != nil {
			shard.Imports = append(shard.Imports, imp)
		}
		if ref := p.extractCall(n, content); ref != nil {
			shard.References = append(shard.References, ref)
		}
		return true
	})
	if tree.Root.HasError {
		shard.ParseErrors++
	}
	return shard, nil
}

func (p *GoPlugin) extractSymbol(n *treesitter.Node, source []byte) *store.Symbol {
	var kind store.SymbolKind
	var name string

	switch n.Type {
	case "function_declaration":
		kind = store.SymbolFunction
		name = firstIdentifier(n, source)
	case "method_declaration":
		kind = store.SymbolMethod
		for _, child := range n.Children {
			if child.Type == "field_identifier" {
				name = child.Content(source)
				break
			}
		}
	case "type_declaration":
		kind = store.SymbolTypeAlias
		for _, spec := range n.FindChildrenByType("type_spec") {
			if id := spec.FindChildByType("type_identifier"); id != nil {
				name = id.Content(source)
				if structType := spec.FindChildByType("struct_type"); structType != nil {
					kind = store.SymbolStruct
				} else if ifaceType := spec.FindChildByType("interface_type"); ifaceType != nil {
					kind = store.SymbolInterface
				}
				break
			}
		}
	case "const_declaration":
		kind = store.SymbolConstant
		for _, spec := range n.FindChildrenByType("const_spec") {
			if id := spec.FindChildByType("identifier"); id != nil {
				name = id.Content(source)
				break
			}
		}
	case "var_declaration":
		kind = store.SymbolVariable
		for _, spec := range n.FindChildrenByType("var_spec") {
			if id := spec.FindChildByType("identifier"); id != nil {
				name = id.Content(source)
				break
			}
		}
	default:
		return nil
	}

	if name == "" {
		return nil
	}
	return &store.Symbol{
		Name:      name,
		Kind:      kind,
		LineStart: int(n.StartPoint.Row) + 1,
		LineEnd:   int(n.EndPoint.Row) + 1,
		ColStart:  int(n.StartPoint.Column),
		ColEnd:    int(n.EndPoint.Column),
		Signature: signatureLine(n, source),
		Doc:       lineCommentDoc(n, source, "//"),
	}
}

func (p *GoPlugin) extractImport(n *treesitter.Node, source []byte) *store.Import {
	if n.Type != "import_spec" {
		return nil
	}
	var path, alias string
	for _, child := range n.Children {
		switch child.Type {
		case "interpreted_string_literal":
			path = strings.Trim(child.Content(source), `"`)
		case "package_identifier", "blank_identifier", "dot":
			alias = child.Content(source)
		}
	}
	if path == "" {
		return nil
	}
	return &store.Import{
		ImportedPath: path,
		Alias:        alias,
		Line:         int(n.StartPoint.Row) + 1,
		IsRelative:   strings.HasPrefix(path, "."),
	}
}

func (p *GoPlugin) extractCall(n *treesitter.Node, source []byte) *store.Reference {
	if n.Type != "call_expression" {
		return nil
	}
	fn := n.FindChildByType("identifier")
	if fn == nil {
		if sel := n.FindChildByType("selector_expression"); sel != nil {
			fn = sel.FindChildByType("field_identifier")
		}
	}
	if fn == nil {
		return nil
	}
	return &store.Reference{
		ResolvedName: fn.Content(source),
		Line:         int(n.StartPoint.Row) + 1,
		Col:          int(n.StartPoint.Column),
		Kind:         store.RefCall,
	}
}

func (p *GoPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, clerrors.New(clerrors.Internal, "GetDefinition requires an indexed symbol table; use store.MetadataStore.LookupSymbol")
}

func (p *GoPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
	shard, err := p.Index(ctx, "", fileContent)
	if err != nil {
		return nil, err
	}
	var refs []*store.Reference
	for _, ref := range shard.References {
		if ref.ResolvedName == name {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

var _ langreg.Plugin = (*GoPlugin)(nil)
