package plugin

import (
	"context"
	"testing"

	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/codelens-dev/codelens/internal/store"
)

const javaSample = `package sample;

public class Greeter {
	public String greet(String name) {
		return helper(name);
	}
}
`

func TestGenericPluginExtractsJavaClassAndMethod(t *testing.T) {
	p := NewGenericPlugin("java", java.GetLanguage(), configFor("java"))
	shard, err := p.Index(context.Background(), "Greeter.java", []byte(javaSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	byName := map[string]*store.Symbol{}
	for _, sym := range shard.Symbols {
		byName[sym.Name] = sym
	}
	if sym, ok := byName["Greeter"]; !ok || sym.Kind != store.SymbolClass {
		t.Errorf("expected Greeter as a class symbol, got %+v", sym)
	}
	if sym, ok := byName["greet"]; !ok || sym.Kind != store.SymbolMethod {
		t.Errorf("expected greet as a method symbol, got %+v", sym)
	}
}

const rustSample = `struct Point {
	x: f64,
	y: f64,
}

fn distance(p: &Point) -> f64 {
	(p.x * p.x + p.y * p.y).sqrt()
}
`

func TestGenericPluginExtractsRustStructAndFunction(t *testing.T) {
	p := NewGenericPlugin("rust", rust.GetLanguage(), configFor("rust"))
	shard, err := p.Index(context.Background(), "point.rs", []byte(rustSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	byName := map[string]*store.Symbol{}
	for _, sym := range shard.Symbols {
		byName[sym.Name] = sym
	}
	if sym, ok := byName["Point"]; !ok || sym.Kind != store.SymbolStruct {
		t.Errorf("expected Point as a struct symbol, got %+v", sym)
	}
	if sym, ok := byName["distance"]; !ok || sym.Kind != store.SymbolFunction {
		t.Errorf("expected distance as a function symbol, got %+v", sym)
	}
}

func TestGenericPluginFindReferencesIn(t *testing.T) {
	p := NewGenericPlugin("java", java.GetLanguage(), configFor("java"))
	refs, err := p.FindReferencesIn(context.Background(), []byte(javaSample), "helper")
	if err != nil {
		t.Fatalf("FindReferencesIn: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 reference to helper, got %d", len(refs))
	}
}

func TestGenericPluginNilConfigYieldsNoSymbols(t *testing.T) {
	p := NewGenericPlugin("html", html.GetLanguage(), nil)
	if p.config == nil {
		t.Fatal("expected NewGenericPlugin to default a nil config")
	}

	shard, err := p.Index(context.Background(), "index.html", []byte("<html><body></body></html>"))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(shard.Symbols) != 0 {
		t.Errorf("expected no symbols with a nil config, got %+v", shard.Symbols)
	}
}
