// Package treesitter wraps tree-sitter parsing behind a small AST
// abstraction and a compiled-query cache keyed by (language, purpose).
package treesitter

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// Point is a 0-indexed row/column position in source.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a tree-sitter AST node, flattened to avoid leaking the
// underlying C-backed tree-sitter types past this package's boundary.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Content returns the source slice this node spans.
func (n *Node) Content(source []byte) string {
	if n == nil || n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns the first direct child with the given node type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, c := range n.Children {
		if c.Type == nodeType {
			return c
		}
	}
	return nil
}

// FindChildrenByType returns all direct children with the given node type.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Type == nodeType {
			out = append(out, c)
		}
	}
	return out
}

// FindAllByType recursively collects every node of the given type.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var out []*Node
	if n.Type == nodeType {
		out = append(out, n)
	}
	for _, c := range n.Children {
		out = append(out, c.FindAllByType(nodeType)...)
	}
	return out
}

// Walk traverses depth-first, calling fn on each node; fn returning false
// stops descent into that node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// CountNodes returns the number of nodes in the subtree rooted at n,
// including n itself.
func (n *Node) CountNodes() int {
	count := 1
	for _, c := range n.Children {
		count += c.CountNodes()
	}
	return count
}

// Tree is a parsed AST plus the source and language it was parsed from. The
// underlying tree-sitter tree is kept alive until Close, so queries can
// still be run against it after Parse returns.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string

	raw *sitter.Tree
}

// Close releases the underlying tree-sitter tree. Safe to call once.
func (t *Tree) Close() {
	if t.raw != nil {
		t.raw.Close()
		t.raw = nil
	}
}

// maxNodeDepth bounds recursion when converting pathologically deep or
// generated trees; nodes beyond this depth are skipped rather than
// crashing the indexer.
const maxNodeDepth = 512

// Parser wraps a tree-sitter parser instance for one language. A Parser is
// not safe for concurrent use; plugins construct one per parse call or pool
// them externally.
type Parser struct {
	parser *sitter.Parser
	skipped int
}

// NewParser creates a parser for the given tree-sitter grammar.
func NewParser(lang *sitter.Language) *Parser {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return &Parser{parser: p}
}

// Parse parses source into a Tree. A node deeper than maxNodeDepth is kept
// as a childless stub (type and byte range only) and its descendants are
// not converted; Skipped reports how many stubs the call produced.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	p.skipped = 0
	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, clerrors.Wrap(clerrors.ParseError, "parse source", err)
	}
	if tsTree == nil {
		return nil, clerrors.New(clerrors.ParseError, "parser returned nil tree")
	}

	root := p.convert(tsTree.RootNode(), 0)
	return &Tree{Root: root, Source: source, Language: language, raw: tsTree}, nil
}

// Skipped reports how many nodes the last Parse call cut down to childless
// stubs for exceeding maxNodeDepth.
func (p *Parser) Skipped() int { return p.skipped }

func (p *Parser) convert(tsNode *sitter.Node, depth int) *Node {
	if tsNode == nil {
		return nil
	}
	if depth > maxNodeDepth {
		p.skipped++
		return &Node{Type: tsNode.Type(), StartByte: tsNode.StartByte(), EndByte: tsNode.EndByte()}
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{Row: tsNode.StartPoint().Row, Column: tsNode.StartPoint().Column},
		EndPoint:   Point{Row: tsNode.EndPoint().Row, Column: tsNode.EndPoint().Column},
		HasError:  tsNode.HasError(),
		Children:  make([]*Node, 0, int(tsNode.ChildCount())),
	}
	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, p.convert(child, depth+1))
		}
	}
	return node
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}
