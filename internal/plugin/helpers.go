package plugin

import (
	"strings"

	"github.com/codelens-dev/codelens/internal/treesitter"
)

// identifierNodeTypes covers the handful of node type names tree-sitter
// grammars use for a bare name token, across the languages this package
// supports generically.
var identifierNodeTypes = []string{
	"identifier", "field_identifier", "type_identifier",
	"property_identifier", "constant", "name",
}

// firstIdentifier returns the text of the first direct child of n whose
// type looks like a name token, or "" if none is found.
func firstIdentifier(n *treesitter.Node, source []byte) string {
	for _, child := range n.Children {
		if contains(identifierNodeTypes, child.Type) {
			return child.Content(source)
		}
	}
	return ""
}

// signatureLine extracts the first line of a node's content, truncated at
// an opening brace when present, matching extractFunctionSignature's
// per-language heuristic but collapsed to one language-agnostic rule:
// code before "{" is the signature, or the whole first line if there is
// none (Python's "def f():", Ruby's "def f", bash's "f() {").
func signatureLine(n *treesitter.Node, source []byte) string {
	content := n.Content(source)
	if content == "" {
		return ""
	}
	firstLine := content
	if idx := strings.IndexByte(content, '\n'); idx != -1 {
		firstLine = content[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if idx := strings.IndexByte(firstLine, '{'); idx != -1 {
		return strings.TrimSpace(firstLine[:idx])
	}
	return firstLine
}

// lineCommentDoc looks at the source line immediately preceding n's start
// line for a "//" or "#" prefixed comment, the common doc-comment
// convention across C-family and scripting languages. Python's docstring
// convention (string literal as the first statement in the body) is
// handled separately by the Python plugin, matching
// internal/chunk/extractor.go's extractDocComment per-language split.
func lineCommentDoc(n *treesitter.Node, source []byte, prefixes ...string) string {
	if n.StartPoint.Row == 0 {
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}
	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

	for _, prefix := range prefixes {
		if strings.HasPrefix(prevLine, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(prevLine, prefix))
		}
	}
	return ""
}

// estimatedParserBytes approximates the resident cost of one parser
// instance plus its compiled query set, for the plugin cache's byte
// budget. Tree-sitter grammars and a handful of compiled
// queries are a few hundred KB in practice; this is a fixed estimate
// rather than a measurement, refined only if profiling shows otherwise.
const estimatedParserBytes = 512 * 1024
