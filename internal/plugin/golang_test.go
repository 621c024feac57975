package plugin

import (
	"context"
	"testing"

	"github.com/codelens-dev/codelens/internal/store"
)

const goSample = `package sample

import "fmt"

const MaxRetries = 3

type Shape interface {
	Area() float64
}

type Circle struct {
	Radius float64
}

func (c *Circle) Area() float64 {
	return 3.14 * c.Radius * c.Radius
}

func NewCircle(r float64) *Circle {
	return &Circle{Radius: r}
}

func main() {
	c := NewCircle(2)
	fmt.Println(c.Area())
}
`

func TestGoPluginIndexExtractsSymbols(t *testing.T) {
	p := NewGoPlugin()
	shard, err := p.Index(context.Background(), "sample.go", []byte(goSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	byName := map[string]*store.Symbol{}
	for _, sym := range shard.Symbols {
		byName[sym.Name] = sym
	}

	if sym, ok := byName["NewCircle"]; !ok || sym.Kind != store.SymbolFunction {
		t.Errorf("expected NewCircle as a function symbol, got %+v", sym)
	}
	if sym, ok := byName["Area"]; !ok || sym.Kind != store.SymbolMethod {
		t.Errorf("expected Area as a method symbol, got %+v", sym)
	}
	if sym, ok := byName["Circle"]; !ok || sym.Kind != store.SymbolStruct {
		t.Errorf("expected Circle as a struct symbol, got %+v", sym)
	}
	if sym, ok := byName["Shape"]; !ok || sym.Kind != store.SymbolInterface {
		t.Errorf("expected Shape as an interface symbol, got %+v", sym)
	}
	if sym, ok := byName["MaxRetries"]; !ok || sym.Kind != store.SymbolConstant {
		t.Errorf("expected MaxRetries as a constant symbol, got %+v", sym)
	}
}

func TestGoPluginExtractsImport(t *testing.T) {
	p := NewGoPlugin()
	shard, err := p.Index(context.Background(), "sample.go", []byte(goSample))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	if len(shard.Imports) != 1 || shard.Imports[0].ImportedPath != "fmt" {
		t.Fatalf("expected single fmt import, got %+v", shard.Imports)
	}
}

func TestGoPluginFindReferencesIn(t *testing.T) {
	p := NewGoPlugin()
	refs, err := p.FindReferencesIn(context.Background(), []byte(goSample), "NewCircle")
	if err != nil {
		t.Fatalf("FindReferencesIn: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 reference to NewCircle, got %d", len(refs))
	}
}

func TestGoPluginSupports(t *testing.T) {
	p := NewGoPlugin()
	if !p.Supports("a/b/c.go") {
		t.Error("expected .go to be supported")
	}
	if p.Supports("a/b/c.py") {
		t.Error("expected .py to not be supported")
	}
}
