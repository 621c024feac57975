package plugin

import (
	"context"
	"testing"

	"github.com/codelens-dev/codelens/internal/store"
)

const tsSample = `import { readFile } from "fs";

interface Greeter {
	greet(name: string): string;
}

class Formal implements Greeter {
	greet(name: string): string {
		return format(name);
	}
}

const format = (name) => {
	return "Dear " + name;
};

function main() {
	const g = new Formal();
	console.log(g.greet("World"));
}
`

func TestJSTSPluginExtractsSymbols(t *testing.T) {
	p := NewJSTSPlugin("typescript")
	shard, err := p.Index(context.Background(), "sample.ts", []byte(tsSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	byName := map[string]*store.Symbol{}
	for _, sym := range shard.Symbols {
		byName[sym.Name] = sym
	}

	if sym, ok := byName["main"]; !ok || sym.Kind != store.SymbolFunction {
		t.Errorf("expected main as a function symbol, got %+v", sym)
	}
	if sym, ok := byName["Formal"]; !ok || sym.Kind != store.SymbolClass {
		t.Errorf("expected Formal as a class symbol, got %+v", sym)
	}
	if sym, ok := byName["Greeter"]; !ok || sym.Kind != store.SymbolInterface {
		t.Errorf("expected Greeter as an interface symbol, got %+v", sym)
	}
	if sym, ok := byName["format"]; !ok || sym.Kind != store.SymbolFunction {
		t.Errorf("expected format (arrow function binding) as a function symbol, got %+v", sym)
	}
}

func TestJSTSPluginInterfaceIgnoredForPlainJS(t *testing.T) {
	p := NewJSTSPlugin("javascript")
	shard, err := p.Index(context.Background(), "sample.js", []byte(tsSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	for _, sym := range shard.Symbols {
		if sym.Kind == store.SymbolInterface {
			t.Errorf("plain javascript plugin should not recognize interfaces, got %+v", sym)
		}
	}
}

func TestJSTSPluginExtractsImport(t *testing.T) {
	p := NewJSTSPlugin("typescript")
	shard, err := p.Index(context.Background(), "sample.ts", []byte(tsSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(shard.Imports) != 1 || shard.Imports[0].ImportedPath != "fs" {
		t.Fatalf("expected single fs import, got %+v", shard.Imports)
	}
}

func TestJSTSPluginSupportsByExtension(t *testing.T) {
	cases := []struct {
		langID string
		path   string
		want   bool
	}{
		{"typescript", "a.ts", true},
		{"typescript", "a.tsx", false},
		{"tsx", "a.tsx", true},
		{"javascript", "a.mjs", true},
		{"jsx", "a.jsx", true},
		{"jsx", "a.js", false},
	}
	for _, c := range cases {
		p := NewJSTSPlugin(c.langID)
		if got := p.Supports(c.path); got != c.want {
			t.Errorf("%s.Supports(%q) = %v, want %v", c.langID, c.path, got, c.want)
		}
	}
}
