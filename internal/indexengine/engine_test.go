package indexengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/plugin"
	"github.com/codelens-dev/codelens/internal/scanner"
	"github.com/codelens-dev/codelens/internal/store"
)

func setupTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	root := t.TempDir()
	dataDir := t.TempDir()

	metadata, err := store.NewSQLiteMetadataStore(filepath.Join(dataDir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	lexical, err := store.NewSQLiteLexicalIndex(filepath.Join(dataDir, "lexical.db"), store.DefaultCodeStopWords)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	reg := langreg.NewRegistry()
	cache := langreg.NewPluginCache(0)
	plugin.RegisterAll(reg, cache)

	sc, err := scanner.New()
	require.NoError(t, err)

	repo := &store.Repository{ID: "test-repo", RootPath: root, CreatedAt: time.Now()}
	require.NoError(t, metadata.SaveRepository(context.Background(), repo))

	engine := New(Config{
		RepoID:   "test-repo",
		RootPath: root,
		Metadata: metadata,
		Lexical:  lexical,
		Registry: reg,
		Cache:    cache,
		Scanner:  sc,
	})
	return engine, root
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

const goFixture = `package sample

func Greet(name string) string {
	return "hello " + name
}
`

func TestEngineIndexFileExtractsSymbols(t *testing.T) {
	engine, root := setupTestEngine(t)
	writeFile(t, root, "sample.go", goFixture)

	indexed, err := engine.IndexFile(context.Background(), "sample.go")
	require.NoError(t, err)
	require.True(t, indexed)

	file, err := engine.cfg.Metadata.GetFile(context.Background(), "test-repo", "sample.go")
	require.NoError(t, err)
	require.Equal(t, "go", file.Language)

	symbols, err := engine.cfg.Metadata.GetSymbolsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.NotEmpty(t, symbols)

	var found bool
	for _, sym := range symbols {
		if sym.Name == "Greet" {
			found = true
			require.NotEmpty(t, sym.ID, "ReplaceDerived should have assigned a symbol id")
		}
	}
	require.True(t, found, "expected a Greet symbol")
}

func TestEngineIndexFileSkipsOversizedFile(t *testing.T) {
	engine, root := setupTestEngine(t)
	engine.cfg.MaxFileSize = 8
	writeFile(t, root, "big.go", goFixture)

	indexed, err := engine.IndexFile(context.Background(), "big.go")
	require.NoError(t, err)
	require.False(t, indexed)
}

func TestEngineIndexFileSkipsBinaryContent(t *testing.T) {
	engine, root := setupTestEngine(t)
	writeFile(t, root, "blob.bin", "\x00\x01\x02binary\x00data")

	indexed, err := engine.IndexFile(context.Background(), "blob.bin")
	require.NoError(t, err)
	require.False(t, indexed)
}

func TestEngineIndexFileSkipsSymlink(t *testing.T) {
	engine, root := setupTestEngine(t)
	writeFile(t, root, "real.go", goFixture)
	require.NoError(t, os.Symlink(filepath.Join(root, "real.go"), filepath.Join(root, "link.go")))

	indexed, err := engine.IndexFile(context.Background(), "link.go")
	require.NoError(t, err)
	require.False(t, indexed)
}

func TestEngineRemoveFileDeletesDerivedRows(t *testing.T) {
	engine, root := setupTestEngine(t)
	writeFile(t, root, "sample.go", goFixture)

	_, err := engine.IndexFile(context.Background(), "sample.go")
	require.NoError(t, err)

	require.NoError(t, engine.RemoveFile(context.Background(), "sample.go"))

	file, err := engine.cfg.Metadata.GetFile(context.Background(), "test-repo", "sample.go")
	require.NoError(t, err)
	require.True(t, file.IsDeleted)

	symbols, err := engine.cfg.Metadata.GetSymbolsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Empty(t, symbols)

	// RemoveFile on an already-removed file must stay a no-op, matching
	// coordinator.go's tolerance for events racing a prior deletion.
	require.NoError(t, engine.RemoveFile(context.Background(), "sample.go"))
}

func TestEngineIndexAllIndexesMultipleFiles(t *testing.T) {
	engine, root := setupTestEngine(t)
	writeFile(t, root, "a.go", goFixture)
	writeFile(t, root, "b.py", "def helper():\n    return 1\n")
	writeFile(t, root, "README.md", "# Title\n\nBody text.\n")

	count, err := engine.IndexAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestDetectFileChangesOrdersDeletionsFirst(t *testing.T) {
	now := time.Now()
	indexed := map[string]*store.File{
		"gone.go":     {RelativePath: "gone.go", ModTime: now, SizeBytes: 10},
		"changed.go":  {RelativePath: "changed.go", ModTime: now, SizeBytes: 10},
		"unchanged.go": {RelativePath: "unchanged.go", ModTime: now, SizeBytes: 10},
	}
	current := map[string]*scanner.FileInfo{
		"changed.go":   {Path: "changed.go", ModTime: now, Size: 20},
		"unchanged.go": {Path: "unchanged.go", ModTime: now, Size: 10},
		"new.go":       {Path: "new.go", ModTime: now, Size: 5},
	}

	changes := detectFileChanges(indexed, current)
	require.Len(t, changes, 3)
	require.Equal(t, ChangeDeleted, changes[0].Type)
	require.Equal(t, "gone.go", changes[0].Path)
	require.Equal(t, ChangeModified, changes[1].Type)
	require.Equal(t, ChangeAdded, changes[2].Type)
}
