package plugin

import (
	"context"
	"strings"
	"sync"

	"github.com/smacker/go-tree-sitter/python"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/internal/treesitter"
)

// PythonPlugin is the specialized Python analyzer. Function/class name
// extraction follows internal/chunk/extractor.go's extractPythonName;
// docstring extraction (Python's actual doc-comment convention) is new,
// since the teacher's extractDocComment explicitly punts on Python.
type PythonPlugin struct {
	mu     sync.Mutex
	parser *treesitter.Parser
}

// NewPythonPlugin constructs the Python specialized plugin.
func NewPythonPlugin() *PythonPlugin {
	return &PythonPlugin{parser: treesitter.NewParser(python.GetLanguage())}
}

func (p *PythonPlugin) LanguageID() string { return "python" }

func (p *PythonPlugin) Supports(path string) bool {
	return strings.HasSuffix(path, ".py") || strings.HasSuffix(path, ".pyw") || strings.HasSuffix(path, ".pyi")
}

func (p *PythonPlugin) EstimatedBytes() int64 { return estimatedParserBytes }

func (p *PythonPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, err := p.parser.Parse(ctx, content, "python")
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	shard := &store.IndexShard{}
	p.walk(tree.Root, content, false, shard)
	if tree.Root.HasError {
		shard.ParseErrors++
	}
	return shard, nil
}

// walk recursively visits n, tracking whether the current node sits
// inside a class body so function_definition can be classified as a
// method rather than a top-level function. treesitter.Node carries no
// parent pointer (neither does the teacher's chunk.Node), so this state
// has to be threaded through the recursion instead of read off the node.
func (p *PythonPlugin) walk(n *treesitter.Node, source []byte, inClass bool, shard *store.IndexShard) {
	if sym := p.extractSymbol(n, source, inClass); sym != nil {
		shard.Symbols = append(shard.Symbols, sym)
	}
	shard.Imports = append(shard.Imports, p.extractImports(n, source)...)
	if ref := p.extractCall(n, source); ref != nil {
		shard.References = append(shard.References, ref)
	}

	childInClass := inClass
	if n.Type == "class_definition" {
		childInClass = true
	} else if n.Type == "function_definition" {
		childInClass = false // nested defs inside a method are plain functions
	}
	for _, child := range n.Children {
		p.walk(child, source, childInClass, shard)
	}
}

func (p *PythonPlugin) extractSymbol(n *treesitter.Node, source []byte, inClass bool) *store.Symbol {
	var kind store.SymbolKind
	switch n.Type {
	case "function_definition":
		kind = store.SymbolFunction
		if inClass {
			kind = store.SymbolMethod
		}
	case "class_definition":
		kind = store.SymbolClass
	default:
		return nil
	}

	name := firstIdentifier(n, source)
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
		Doc:       docstring(n, source),
	}
}

// docstring extracts a function/class's first statement if it is a bare
// string expression, Python's documentation convention.
func docstring(n *treesitter.Node, source []byte) string {
	body := n.FindChildByType("block")
	if body == nil || len(body.Children) == 0 {
		return ""
	}
	first := body.Children[0]
	if first.Type != "expression_statement" || len(first.Children) == 0 {
		return ""
	}
	str := first.Children[0]
	if str.Type != "string" {
		return ""
	}
	text := str.Content(source)
	text = strings.Trim(text, "\"'")
	text = strings.TrimPrefix(text, "\"\"")
	text = strings.TrimSuffix(text, "\"\"")
	return strings.TrimSpace(text)
}

func (p *PythonPlugin) extractImports(n *treesitter.Node, source []byte) []*store.Import {
	switch n.Type {
	case "import_statement":
		var out []*store.Import
		for _, name := range n.FindChildrenByType("dotted_name") {
			out = append(out, &store.Import{
				ImportedPath: name.Content(source),
				Line:         int(n.StartPoint.Row) + 1,
			})
		}
		return out
	case "import_from_statement":
		module := ""
		if m := n.FindChildByType("dotted_name"); m != nil {
			module = m.Content(source)
		} else if m := n.FindChildByType("relative_import"); m != nil {
			module = m.Content(source)
		}
		return []*store.Import{{
			ImportedPath: module,
			Line:         int(n.StartPoint.Row) + 1,
			IsRelative:   strings.HasPrefix(module, "."),
		}}
	}
	return nil
}

func (p *PythonPlugin) extractCall(n *treesitter.Node, source []byte) *store.Reference {
	if n.Type != "call" {
		return nil
	}
	fn := firstIdentifier(n, source)
	if fn == "" {
		if attr := n.FindChildByType("attribute"); attr != nil {
			if id := attr.FindChildByType("identifier"); id != nil {
				fn = id.Content(source)
			}
		}
	}
	if fn == "" {
		return nil
	}
	return &store.Reference{
		ResolvedName: fn,
		Line:         int(n.StartPoint.Row) + 1,
		Col:          int(n.StartPoint.Column),
		Kind:         store.RefCall,
	}
}

func (p *PythonPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, clerrors.New(clerrors.Internal, "GetDefinition requires an indexed symbol table; use store.MetadataStore.LookupSymbol")
}

func (p *PythonPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
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

var _ langreg.Plugin = (*PythonPlugin)(nil)
