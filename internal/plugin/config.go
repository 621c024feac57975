package plugin

import "github.com/codelens-dev/codelens/internal/store"

// nodeConfig maps a language's tree-sitter node types to the SymbolKind
// they define, generalizing internal/chunk/languages.go's LanguageConfig
// (FunctionTypes/ClassTypes/...) from the teacher's four languages to the
// full registry in internal/langreg.
type nodeConfig struct {
	FunctionTypes  []string
	MethodTypes    []string
	ClassTypes     []string
	StructTypes    []string
	InterfaceTypes []string
	TraitTypes     []string
	EnumTypes      []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
	MacroTypes     []string
	NamespaceTypes []string
	ImportTypes    []string
	CallTypes      []string
}

// kindsInOrder pairs each type list with the SymbolKind it produces, in
// the precedence order matches are checked (first match wins, mirroring
// extractSymbolFromNode's function->method->class->... cascade).
func (c *nodeConfig) kindsInOrder() []struct {
	types []string
	kind  store.SymbolKind
} {
	return []struct {
		types []string
		kind  store.SymbolKind
	}{
		{c.FunctionTypes, store.SymbolFunction},
		{c.MethodTypes, store.SymbolMethod},
		{c.ClassTypes, store.SymbolClass},
		{c.StructTypes, store.SymbolStruct},
		{c.InterfaceTypes, store.SymbolInterface},
		{c.TraitTypes, store.SymbolTrait},
		{c.EnumTypes, store.SymbolEnum},
		{c.TypeDefTypes, store.SymbolTypeAlias},
		{c.ConstantTypes, store.SymbolConstant},
		{c.VariableTypes, store.SymbolVariable},
		{c.MacroTypes, store.SymbolMacro},
		{c.NamespaceTypes, store.SymbolNamespace},
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// configs holds the generic (non-specialized) node-type tables for every
// tree-sitter-backed language that doesn't have a dedicated plugin in this
// package (go, python and the javascript/typescript family have richer
// specialized plugins instead).
var configs = map[string]*nodeConfig{
	"java": {
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		MethodTypes:    []string{"method_declaration", "constructor_declaration"},
		EnumTypes:      []string{"enum_declaration"},
		ImportTypes:    []string{"import_declaration"},
		CallTypes:      []string{"method_invocation"},
	},
	"c": {
		FunctionTypes: []string{"function_definition"},
		StructTypes:   []string{"struct_specifier"},
		TypeDefTypes:  []string{"type_definition"},
		ImportTypes:   []string{"preproc_include"},
		CallTypes:     []string{"call_expression"},
	},
	"cpp": {
		FunctionTypes:  []string{"function_definition"},
		ClassTypes:     []string{"class_specifier"},
		StructTypes:    []string{"struct_specifier"},
		NamespaceTypes: []string{"namespace_definition"},
		ImportTypes:    []string{"preproc_include"},
		CallTypes:      []string{"call_expression"},
	},
	"rust": {
		FunctionTypes: []string{"function_item"},
		StructTypes:   []string{"struct_item"},
		EnumTypes:     []string{"enum_item"},
		TraitTypes:    []string{"trait_item"},
		TypeDefTypes:  []string{"type_item"},
		MacroTypes:    []string{"macro_definition"},
		ImportTypes:   []string{"use_declaration"},
		CallTypes:     []string{"call_expression"},
	},
	"ruby": {
		MethodTypes:    []string{"method"},
		ClassTypes:     []string{"class"},
		NamespaceTypes: []string{"module"},
		CallTypes:      []string{"call"},
	},
	"bash": {
		FunctionTypes: []string{"function_definition"},
		CallTypes:     []string{"command"},
	},
	"html": {},
	"css": {
		ClassTypes: []string{"rule_set"},
	},
}

// configFor returns the node-type table for a generic language id, or an
// empty config if none is registered (the language still parses, yielding
// no symbols beyond what GenericPlugin's fallback name extraction finds).
func configFor(langID string) *nodeConfig {
	if cfg, ok := configs[langID]; ok {
		return cfg
	}
	return &nodeConfig{}
}
