package semantic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/treesitter"
)

// Chunking constants mirror the token budget a typical embedding model's
// context window imposes: ~512 tokens per chunk with a 64-token overlap
// when a symbol or section has to be split, estimated at four characters
// per token since no tokenizer is wired for the embedder boundary.
const (
	maxChunkTokens = 512
	overlapTokens  = 64
	tokensPerChar  = 4
)

// chunkSpan is one unit of file content the indexer embeds as a single
// vector, expressed as a byte range plus the text actually sent to the
// embedder (symbol body prefixed with doc comment and file context).
type chunkSpan struct {
	ID            string
	ByteStart     int
	ByteEnd       int
	StartLine     int
	EndLine       int
	EmbedText     string
	ContextBefore string
	Kind          string // "code" or "markdown"
	SymbolName    string
}

// spanChunker turns one file's content into chunkSpans for embedding.
type spanChunker interface {
	Chunk(ctx context.Context, path, language string, content []byte) ([]chunkSpan, error)
	Close()
}

func estimateTokens(s string) int { return len(s) / tokensPerChar }

func chunkID(path, content string) string {
	sum := sha256.Sum256([]byte(path + "\x00" + content))
	return hex.EncodeToString(sum[:])[:16]
}

// lineOffsets returns the byte offset of the first character of every line
// in source, so byte ranges can be grown to whole-line boundaries without
// rescanning the source for every chunk.
func lineOffsets(source []byte) []int {
	offsets := []int{0}
	for i, b := range source {
		if b == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// lineAt returns the 1-indexed line containing byteOffset, given offsets
// from lineOffsets.
func lineAt(offsets []int, byteOffset int) int {
	lo, hi := 0, len(offsets)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if offsets[mid] <= byteOffset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}

// symbolTable lists the tree-sitter node types that mark a chunk boundary
// for one language: a function/method/type/const/var declaration. Classes
// and interfaces fall under the same boundary role and don't need their
// own field since nothing downstream distinguishes symbol kinds once a
// chunk is embedded — only its name and byte span matter.
type symbolTable []string

var codeSymbolTables = map[string]symbolTable{
	"go":         {"function_declaration", "method_declaration", "type_declaration", "const_declaration", "var_declaration"},
	"python":     {"function_definition", "class_definition"},
	"javascript": {"function_declaration", "class_declaration", "method_definition", "lexical_declaration", "variable_declaration"},
	"jsx":        {"function_declaration", "class_declaration", "method_definition", "lexical_declaration", "variable_declaration"},
	"typescript": {"function_declaration", "class_declaration", "interface_declaration", "method_definition", "lexical_declaration", "variable_declaration", "type_alias_declaration"},
	"tsx":        {"function_declaration", "class_declaration", "interface_declaration", "method_definition", "lexical_declaration", "variable_declaration", "type_alias_declaration"},
}

// contextNodeTypes lists the top-level node types carried into a file's
// context header (package clause / import statements), prefixed to the
// first chunk of every symbol so the embedder sees a file's imports even
// though the chunk itself is one function or type.
var contextNodeTypes = map[string][]string{
	"go":         {"package_clause", "import_declaration"},
	"python":     {"import_statement", "import_from_statement"},
	"javascript": {"import_statement"},
	"jsx":        {"import_statement"},
	"typescript": {"import_statement"},
	"tsx":        {"import_statement"},
}

// identifierNodeTypes covers the node type names tree-sitter grammars use
// for a bare name token, the same set internal/plugin/helpers.go checks
// for structural symbol extraction.
var identifierNodeTypes = []string{"identifier", "field_identifier", "type_identifier", "property_identifier"}

func isIdentifierType(t string) bool {
	for _, c := range identifierNodeTypes {
		if c == t {
			return true
		}
	}
	return false
}

// symbolName extracts a node's name by checking its direct children for an
// identifier-like token, then falling back one level deeper — the common
// shape for both simple declarations (Go's "func Name(...)") and wrapped
// ones (JS/TS "const Name = () => {}", where the identifier is nested
// inside a variable_declarator).
func symbolName(n *treesitter.Node, source []byte) string {
	for _, c := range n.Children {
		if isIdentifierType(c.Type) {
			return c.Content(source)
		}
	}
	for _, c := range n.Children {
		for _, gc := range c.Children {
			if isIdentifierType(gc.Type) {
				return gc.Content(source)
			}
		}
	}
	return ""
}

// docCommentStart walks backward from a node's line start over contiguous
// "//" or "#" comment lines, returning the byte offset the doc comment
// (and therefore the chunk) should start at. Returns n.StartByte unchanged
// when no comment precedes the node.
func docCommentStart(n *treesitter.Node, source []byte) int {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	start := int(n.StartByte)
	pos := lineStart
	for pos > 0 {
		prevLineEnd := pos - 1
		prevLineStart := prevLineEnd
		for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
			prevLineStart--
		}
		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if !strings.HasPrefix(prevLine, "//") && !strings.HasPrefix(prevLine, "#") {
			break
		}
		start = prevLineStart
		pos = prevLineStart
	}
	return start
}

// symbolChunker splits source files into chunkSpans along symbol
// boundaries (functions, methods, types) using tree-sitter, falling back
// to fixed-size line windows for languages with no grammar registered or
// no recognized symbol in a given file.
type symbolChunker struct {
	registry *langreg.Registry
}

func newSymbolChunker(registry *langreg.Registry) *symbolChunker {
	return &symbolChunker{registry: registry}
}

func (c *symbolChunker) Close() {}

func (c *symbolChunker) Chunk(ctx context.Context, path, language string, content []byte) ([]chunkSpan, error) {
	if len(content) == 0 {
		return nil, nil
	}

	tsLang, ok := c.registry.TreeSitterLanguage(language)
	table, hasTable := codeSymbolTables[language]
	if !ok || !hasTable {
		return chunkByLines(content, "code"), nil
	}

	parser := treesitter.NewParser(tsLang)
	defer parser.Close()
	tree, err := parser.Parse(ctx, content, language)
	if err != nil {
		return chunkByLines(content, "code"), nil
	}
	defer tree.Close()

	fileContext := fileHeaderContext(tree.Root, content, contextNodeTypes[language])
	offsets := lineOffsets(content)

	var spans []chunkSpan
	tree.Root.Walk(func(n *treesitter.Node) bool {
		if !containsType(table, n.Type) {
			return true
		}
		name := symbolName(n, content)
		if name == "" {
			return true
		}
		spans = append(spans, c.spansFromSymbol(n, name, content, path, fileContext, offsets)...)
		return false // don't descend into an already-chunked symbol's body
	})
	return spans, nil
}

func containsType(table symbolTable, t string) bool {
	for _, c := range table {
		if c == t {
			return true
		}
	}
	return false
}

func fileHeaderContext(root *treesitter.Node, source []byte, types []string) string {
	if len(types) == 0 {
		return ""
	}
	var parts []string
	for _, child := range root.Children {
		for _, t := range types {
			if child.Type == t {
				parts = append(parts, child.Content(source))
				break
			}
		}
	}
	return strings.Join(parts, "\n")
}

func (c *symbolChunker) spansFromSymbol(n *treesitter.Node, name string, source []byte, path, fileContext string, offsets []int) []chunkSpan {
	start := docCommentStart(n, source)
	end := int(n.EndByte)
	body := string(source[start:end])

	if estimateTokens(body) <= maxChunkTokens {
		return []chunkSpan{{
			ID:            chunkID(path, body),
			ByteStart:     start,
			ByteEnd:       end,
			StartLine:     lineAt(offsets, start),
			EndLine:       lineAt(offsets, end),
			EmbedText:     combineContext(fileContext, body),
			ContextBefore: fileContext,
			Kind:          "code",
			SymbolName:    name,
		}}
	}

	return splitByteRange(source, path, start, end, offsets, name, fileContext)
}

// splitByteRange splits [start,end) of source into overlapping line-window
// chunks, used when a single symbol is too large to embed as one chunk.
func splitByteRange(source []byte, path string, start, end int, offsets []int, name, fileContext string) []chunkSpan {
	maxLinesPerChunk := (maxChunkTokens * tokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (overlapTokens * tokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	startLine := lineAt(offsets, start) - 1 // 0-indexed into offsets
	endLine := lineAt(offsets, end) - 1

	var spans []chunkSpan
	for line := startLine; line <= endLine; {
		chunkEndLine := line + maxLinesPerChunk
		if chunkEndLine > endLine {
			chunkEndLine = endLine
		}
		byteStart := offsets[line]
		if byteStart < start {
			byteStart = start
		}
		var byteEnd int
		if chunkEndLine+1 < len(offsets) {
			byteEnd = offsets[chunkEndLine+1]
		} else {
			byteEnd = len(source)
		}
		if byteEnd > end {
			byteEnd = end
		}
		body := string(source[byteStart:byteEnd])
		spans = append(spans, chunkSpan{
			ID:            chunkID(path, body),
			ByteStart:     byteStart,
			ByteEnd:       byteEnd,
			StartLine:     lineAt(offsets, byteStart),
			EndLine:       lineAt(offsets, byteEnd),
			EmbedText:     combineContext(fileContext, body),
			ContextBefore: fileContext,
			Kind:          "code",
			SymbolName:    name,
		})

		if chunkEndLine >= endLine {
			break
		}
		line = chunkEndLine - overlapLines
		if line < startLine {
			line = startLine + 1
		}
	}
	return spans
}

func combineContext(context, body string) string {
	if context == "" {
		return body
	}
	return context + "\n\n" + body
}

// chunkByLines is the fallback chunker for languages with no tree-sitter
// grammar registered or none of codeSymbolTables' node types found: fixed
// line windows with overlap, the same shape a symbol's own overflow split
// uses.
func chunkByLines(content []byte, kind string) []chunkSpan {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	offsets := lineOffsets(content)
	linesPerChunk := 128
	overlapLines := 16

	var spans []chunkSpan
	lines := bytes.Count(content, []byte("\n")) + 1
	for line := 0; line < lines; {
		end := line + linesPerChunk
		if end > lines {
			end = lines
		}
		byteStart := offsets[line]
		var byteEnd int
		if end < len(offsets) {
			byteEnd = offsets[end]
		} else {
			byteEnd = len(content)
		}
		body := strings.TrimRight(string(content[byteStart:byteEnd]), "\n")
		if strings.TrimSpace(body) != "" {
			spans = append(spans, chunkSpan{
				ID:         chunkID("", body),
				ByteStart:  byteStart,
				ByteEnd:    byteEnd,
				StartLine:  line + 1,
				EndLine:    end,
				EmbedText:  body,
				Kind:       kind,
				SymbolName: "",
			})
		}
		if end >= lines {
			break
		}
		line = end - overlapLines
	}
	return spans
}

// markdownChunker splits Markdown files into header-delimited sections,
// falling back to paragraph windows for unheadered content or sections too
// large to embed as one chunk.
type markdownChunker struct{}

func newMarkdownChunker() *markdownChunker { return &markdownChunker{} }

func (markdownChunker) Close() {}

var (
	markdownHeaderPattern      = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+)$`)
	markdownFrontmatterPattern = regexp.MustCompile(`(?s)\A---\n.*?\n---\n*`)
)

func (markdownChunker) Chunk(_ context.Context, path, _ string, content []byte) ([]chunkSpan, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var spans []chunkSpan
	offset := 0
	if loc := markdownFrontmatterPattern.FindStringIndex(text); loc != nil {
		front := text[loc[0]:loc[1]]
		spans = append(spans, chunkSpan{
			ID:        chunkID(path, front),
			ByteStart: loc[0],
			ByteEnd:   loc[1],
			StartLine: 1,
			EndLine:   strings.Count(front, "\n"),
			EmbedText: front,
			Kind:      "markdown",
		})
		offset = loc[1]
	}

	body := text[offset:]
	headers := markdownHeaderPattern.FindAllStringSubmatchIndex(body, -1)
	if len(headers) == 0 {
		spans = append(spans, splitMarkdownParagraphs(path, body, offset, "")...)
		return spans, nil
	}

	for idx, h := range headers {
		start := h[0]
		end := len(body)
		if idx+1 < len(headers) {
			end = headers[idx+1][0]
		}
		title := strings.TrimSpace(body[h[4]:h[5]])
		section := body[start:end]
		if estimateTokens(section) <= maxChunkTokens {
			spans = append(spans, chunkSpan{
				ID:         chunkID(path, section),
				ByteStart:  offset + start,
				ByteEnd:    offset + end,
				StartLine:  1 + strings.Count(body[:start], "\n"),
				EndLine:    1 + strings.Count(body[:end], "\n"),
				EmbedText:  section,
				Kind:       "markdown",
				SymbolName: title,
			})
			continue
		}
		spans = append(spans, splitMarkdownParagraphs(path, section, offset+start, title)...)
	}
	return spans, nil
}

// splitMarkdownParagraphs splits content into blank-line-delimited
// paragraph groups under the chunk token budget, keeping fenced code
// blocks (```...```) intact even when they span a blank line.
func splitMarkdownParagraphs(path, content string, baseOffset int, sectionTitle string) []chunkSpan {
	paragraphs := mergeFencedParagraphs(strings.Split(content, "\n\n"))

	var spans []chunkSpan
	var current strings.Builder
	currentStart := baseOffset
	cursor := baseOffset

	flush := func(end int) {
		if current.Len() == 0 {
			return
		}
		body := current.String()
		spans = append(spans, chunkSpan{
			ID:         chunkID(path, body),
			ByteStart:  currentStart,
			ByteEnd:    end,
			StartLine:  1 + strings.Count(content[:currentStart-baseOffset], "\n"),
			EndLine:    1 + strings.Count(content[:end-baseOffset], "\n"),
			EmbedText:  body,
			Kind:       "markdown",
			SymbolName: sectionTitle,
		})
		current.Reset()
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && estimateTokens(current.String())+estimateTokens(para) > maxChunkTokens {
			flush(cursor)
			currentStart = cursor
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		cursor = currentStart + len(current.String())
	}
	flush(cursor)
	return spans
}

// mergeFencedParagraphs re-joins paragraph fragments that a blank-line
// split cut in the middle of a ``` fenced code block.
func mergeFencedParagraphs(paragraphs []string) []string {
	var out []string
	var fence strings.Builder
	inFence := false
	for _, p := range paragraphs {
		if inFence {
			fence.WriteString("\n\n")
			fence.WriteString(p)
			if strings.Contains(p, "```") {
				out = append(out, fence.String())
				fence.Reset()
				inFence = false
			}
			continue
		}
		if strings.Count(p, "```")%2 == 1 {
			inFence = true
			fence.WriteString(p)
			continue
		}
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if inFence {
		out = append(out, fence.String())
	}
	return out
}
