package plugin

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/internal/treesitter"
)

// JSTSPlugin is the specialized JavaScript/TypeScript analyzer, covering
// all four grammar variants the teacher's internal/chunk/languages.go
// registers (js, jsx, ts, tsx) behind one plugin since their declaration
// shapes are identical in every way this package cares about. Name
// extraction and the arrow-function-as-variable special case are ported
// from internal/chunk/extractor.go's extractTypeScriptName/
// extractJavaScriptName/extractJSVariableFunctionSymbol.
type JSTSPlugin struct {
	mu       sync.Mutex
	langID   string
	parser   *treesitter.Parser
	typeAware bool // true for typescript/tsx: interface/type_alias recognized
}

func treeSitterLanguageFor(langID string) *sitter.Language {
	switch langID {
	case "typescript":
		return typescript.GetLanguage()
	case "tsx":
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// NewJSTSPlugin constructs the specialized plugin for one of
// "javascript", "jsx", "typescript" or "tsx".
func NewJSTSPlugin(langID string) *JSTSPlugin {
	return &JSTSPlugin{
		langID:    langID,
		parser:    treesitter.NewParser(treeSitterLanguageFor(langID)),
		typeAware: langID == "typescript" || langID == "tsx",
	}
}

func (p *JSTSPlugin) LanguageID() string { return p.langID }

func (p *JSTSPlugin) Supports(path string) bool {
	exts := map[string][]string{
		"javascript": {".js", ".mjs", ".cjs"},
		"jsx":        {".jsx"},
		"typescript": {".ts"},
		"tsx":        {".tsx"},
	}
	for _, ext := range exts[p.langID] {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func (p *JSTSPlugin) EstimatedBytes() int64 { return estimatedParserBytes }

func (p *JSTSPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, err := p.parser.Parse(ctx, content, p.langID)
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

func (p *JSTSPlugin) extractSymbol(n *treesitter.Node, source []byte) *store.Symbol {
	var kind store.SymbolKind
	var name string

	switch n.Type {
	case "function_declaration", "function":
		kind = store.SymbolFunction
		name = firstIdentifier(n, source)
	case "method_definition":
		kind = store.SymbolMethod
		name = firstIdentifier(n, source)
	case "class_declaration":
		kind = store.SymbolClass
		name = firstIdentifier(n, source)
	case "interface_declaration":
		if !p.typeAware {
			return nil
		}
		kind = store.SymbolInterface
		name = firstIdentifier(n, source)
	case "type_alias_declaration":
		if !p.typeAware {
			return nil
		}
		kind = store.SymbolTypeAlias
		name = firstIdentifier(n, source)
	case "lexical_declaration", "variable_declaration":
		return p.extractVariableOrFunctionSymbol(n, source)
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

// extractVariableOrFunctionSymbol handles `const f = () => {}` and
// `const f = function() {}`, a const/let/var binding that is itself a
// function, and plain top-level variable/constant bindings otherwise.
func (p *JSTSPlugin) extractVariableOrFunctionSymbol(n *treesitter.Node, source []byte) *store.Symbol {
	declarator := n.FindChildByType("variable_declarator")
	if declarator == nil {
		return nil
	}

	var name string
	var isFunction bool
	for _, child := range declarator.Children {
		switch child.Type {
		case "identifier":
			name = child.Content(source)
		case "arrow_function", "function", "function_expression":
			isFunction = true
		}
	}
	if name == "" {
		return nil
	}

	kind := store.SymbolVariable
	if n.Type == "lexical_declaration" && strings.HasPrefix(strings.TrimSpace(n.Content(source)), "const") {
		kind = store.SymbolConstant
	}
	if isFunction {
		kind = store.SymbolFunction
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

func (p *JSTSPlugin) extractImport(n *treesitter.Node, source []byte) *store.Import {
	if n.Type != "import_statement" {
		return nil
	}
	src := n.FindChildByType("string")
	if src == nil {
		return nil
	}
	path := strings.Trim(src.Content(source), `"'`)
	return &store.Import{
		ImportedPath: path,
		Line:         int(n.StartPoint.Row) + 1,
		IsRelative:   strings.HasPrefix(path, "."),
	}
}

func (p *JSTSPlugin) extractCall(n *treesitter.Node, source []byte) *store.Reference {
	if n.Type != "call_expression" {
		return nil
	}
	fn := firstIdentifier(n, source)
	if fn == "" {
		if member := n.FindChildByType("member_expression"); member != nil {
			fn = firstIdentifier(member, source)
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

func (p *JSTSPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, clerrors.New(clerrors.Internal, "GetDefinition requires an indexed symbol table; use store.MetadataStore.LookupSymbol")
}

func (p *JSTSPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
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

var _ langreg.Plugin = (*JSTSPlugin)(nil)
