package plugin

import (
	"github.com/codelens-dev/codelens/internal/langreg"
)

// specializedLanguages lists the language ids with a hand-written plugin
// instead of the generic node-type-table one.
var specializedLanguages = map[string]bool{
	"go": true, "python": true,
	"javascript": true, "jsx": true, "typescript": true, "tsx": true,
}

// documentLanguages lists the header-bearing prose formats routed to
// DocumentPlugin instead of GenericPlugin or PlaintextPlugin.
var documentLanguages = map[string]bool{
	"markdown": true,
}

// RegisterAll wires a factory for every language in reg into cache, so that
// any subsequent langreg.PluginCache.Get call can construct and cache a
// plugin without the caller needing to know which concrete type backs a
// given language id. Go, Python and the JS/TS family get their specialized
// plugin; Markdown gets the section-extracting document plugin; any other
// language with a tree-sitter grammar gets the generic node-type-table
// plugin; everything else falls back to the content-only plaintext plugin.
func RegisterAll(reg *langreg.Registry, cache *langreg.PluginCache) {
	for id := range reg.Languages() {
		lang, ok := reg.ByID(id)
		if !ok {
			continue
		}
		cache.RegisterFactory(id, factoryFor(id, lang), lang.Priority)
	}
}

func factoryFor(id string, lang *langreg.Language) langreg.Factory {
	switch {
	case id == "go":
		return func(*langreg.Language) (langreg.Plugin, error) { return NewGoPlugin(), nil }
	case id == "python":
		return func(*langreg.Language) (langreg.Plugin, error) { return NewPythonPlugin(), nil }
	case specializedLanguages[id]:
		return func(*langreg.Language) (langreg.Plugin, error) { return NewJSTSPlugin(id), nil }
	case documentLanguages[id]:
		return func(*langreg.Language) (langreg.Plugin, error) { return NewDocumentPlugin(id), nil }
	case lang.HasTreeSitter():
		return func(l *langreg.Language) (langreg.Plugin, error) {
			return NewGenericPlugin(id, l.TSLanguage, configFor(id)), nil
		}
	default:
		return func(*langreg.Language) (langreg.Plugin, error) { return NewPlaintextPlugin(id), nil }
	}
}
