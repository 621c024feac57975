package langreg

import (
	"context"
	"testing"
	"time"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/store"
)

type stubPlugin struct {
	id       string
	estBytes int64
}

func (p *stubPlugin) LanguageID() string { return p.id }
func (p *stubPlugin) Supports(path string) bool { return true }
func (p *stubPlugin) Index(ctx context.Context, path string, content []byte) (*store.IndexShard, error) {
	return &store.IndexShard{}, nil
}
func (p *stubPlugin) GetDefinition(ctx context.Context, name, context string) (*store.Symbol, error) {
	return nil, nil
}
func (p *stubPlugin) FindReferencesIn(ctx context.Context, fileContent []byte, name string) ([]*store.Reference, error) {
	return nil, nil
}
func (p *stubPlugin) EstimatedBytes() int64 { return p.estBytes }

func stubFactory(estBytes int64) Factory {
	return func(lang *Language) (Plugin, error) {
		return &stubPlugin{id: lang.ID, estBytes: estBytes}, nil
	}
}

func TestPluginCacheBuildsOnMiss(t *testing.T) {
	c := NewPluginCache(0)
	c.RegisterFactory("go", stubFactory(1024), 10)

	p, err := c.Get(context.Background(), &Language{ID: "go"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.LanguageID() != "go" {
		t.Errorf("expected go plugin, got %s", p.LanguageID())
	}
}

func TestPluginCacheHitsSameInstance(t *testing.T) {
	c := NewPluginCache(0)
	c.RegisterFactory("go", stubFactory(1024), 10)

	p1, _ := c.Get(context.Background(), &Language{ID: "go"})
	p2, _ := c.Get(context.Background(), &Language{ID: "go"})
	if p1 != p2 {
		t.Error("expected second Get to return the cached instance")
	}
}

func TestPluginCacheUnregisteredLanguage(t *testing.T) {
	c := NewPluginCache(0)
	_, err := c.Get(context.Background(), &Language{ID: "cobol"})
	if clerrors.KindOf(err) != clerrors.PluginLoadFailed {
		t.Errorf("expected PluginLoadFailed, got %v", err)
	}
}

func TestPluginCacheEvictsUnderByteBudget(t *testing.T) {
	c := NewPluginCache(1500)
	c.RegisterFactory("go", stubFactory(1000), 1)     // low priority, evictable
	c.RegisterFactory("python", stubFactory(1000), 10) // high priority, pinned

	if _, err := c.Get(context.Background(), &Language{ID: "go", Priority: 1}); err != nil {
		t.Fatalf("Get go: %v", err)
	}
	if _, err := c.Get(context.Background(), &Language{ID: "python", Priority: 10}); err != nil {
		t.Fatalf("Get python: %v", err)
	}

	stats := c.Stats()
	if stats.UsedBytes > 1500 {
		t.Errorf("expected used bytes within budget, got %d", stats.UsedBytes)
	}
	if stats.ResidentLanguages != 1 {
		t.Errorf("expected exactly one resident plugin after eviction, got %d", stats.ResidentLanguages)
	}
}

func TestPluginCacheConstructionTimeout(t *testing.T) {
	c := NewPluginCache(0)
	c.loadTimeout = 10 * time.Millisecond
	c.RegisterFactory("slow", func(lang *Language) (Plugin, error) {
		time.Sleep(50 * time.Millisecond)
		return &stubPlugin{id: "slow"}, nil
	}, 1)

	_, err := c.Get(context.Background(), &Language{ID: "slow"})
	if clerrors.KindOf(err) != clerrors.PluginLoadTimeout {
		t.Errorf("expected PluginLoadTimeout, got %v", err)
	}
}
