package plugin

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/store"
)

// headerPattern matches ATX-style Markdown headers, identical to
// internal/chunk/markdown_chunker.go's headerPattern.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// DocumentPlugin indexes Markdown (and similarly headered prose formats) as
// one SymbolSection per header, carrying the header hierarchy the teacher's
// markdown_chunker.go computes for its chunk metadata. It does not chunk
// content for embedding; that belongs to the semantic indexer, which chunks
// the raw file independently of the symbols this plugin contributes.
type DocumentPlugin struct {
	langID string
}

// NewDocumentPlugin constructs the Markdown/prose plugin for langID, one of
// "markdown" or any other header-bearing text format registered in langreg.
func NewDocumentPlugin(langID string) *DocumentPlugin {
	return &DocumentPlugin{langID: langID}
}

func (d *DocumentPlugin) LanguageID() string { return d.langID }

func (d *DocumentPlugin) Supports(path string) bool { return true }

func (d *DocumentPlugin) EstimatedBytes() int64 { return 16 * 1024 }

func (d *DocumentPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	lines := strings.Split(string(content), "\n")
	headerStack := make([]string, 6)

	shard := &store.IndexShard{}
	var open *store.Symbol
	var openPath string

	closeOpen := func(endLine int) {
		if open == nil {
			return
		}
		open.LineEnd = endLine
		shard.Symbols = append(shard.Symbols, open)
		open = nil
	}

	for i, line := range lines {
		match := headerPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		closeOpen(i)

		level := len(match[1])
		title := strings.TrimSpace(match[2])

		headerStack[level-1] = title
		for j := level; j < 6; j++ {
			headerStack[j] = ""
		}

		var parts []string
		for j := 0; j < level; j++ {
			if headerStack[j] != "" {
				parts = append(parts, headerStack[j])
			}
		}
		openPath = strings.Join(parts, " > ")

		open = &store.Symbol{
			Name:         title,
			Kind:         store.SymbolSection,
			LineStart:    i + 1,
			ColStart:     0,
			Signature:    strings.TrimSpace(line),
			MetadataJSON: sectionMetadata(level, openPath),
		}
	}
	closeOpen(len(lines))

	return shard, nil
}

func sectionMetadata(level int, headerPath string) string {
	b, err := json.Marshal(map[string]any{
		"header_level": level,
		"header_path":  headerPath,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

func (d *DocumentPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, clerrors.New(clerrors.Internal, "GetDefinition requires an indexed symbol table; use store.MetadataStore.LookupSymbol")
}

func (d *DocumentPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
	return nil, nil
}

var _ langreg.Plugin = (*DocumentPlugin)(nil)
