package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/embed"
	"github.com/codelens-dev/codelens/internal/store"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	embedder := embed.NewStaticEmbedder()
	t.Cleanup(func() { _ = embedder.Close() })

	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	return New(Config{RepoID: "repo1", Embedder: embedder, VectorStore: vs})
}

func TestPointID_DeterministicAndPathSensitive(t *testing.T) {
	a := PointID("src/a.go", "chunk-0", 1, "deadbeefcafebabe")
	b := PointID("src/a.go", "chunk-0", 1, "deadbeefcafebabe")
	c := PointID("src/b.go", "chunk-0", 1, "deadbeefcafebabe")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIndexer_NotDegradedWithEmbedderAndStore(t *testing.T) {
	idx := newTestIndexer(t)
	assert.False(t, idx.Degraded())
}

func TestIndexer_NilEmbedderDegrades(t *testing.T) {
	idx := New(Config{RepoID: "repo1"})
	assert.True(t, idx.Degraded())

	points, err := idx.IndexFile(context.Background(), "src/a.go", "go", "h", []byte("package main\n"))
	require.NoError(t, err)
	assert.Nil(t, points)
}

func TestIndexer_IndexFile_UpsertsPoints(t *testing.T) {
	idx := newTestIndexer(t)
	defer idx.Close()

	content := []byte("package main\n\nfunc calculateSum(a, b int) int {\n\treturn a + b\n}\n")
	points, err := idx.IndexFile(context.Background(), "src/a.go", "go", "hash1", content)
	require.NoError(t, err)
	require.NotEmpty(t, points)

	for _, p := range points {
		assert.Equal(t, "src/a.go", p.RelativePath)
		assert.True(t, idx.cfg.VectorStore.Contains(p.ID))
	}
}

func TestIndexer_RemoveFile_DeletesPriorPoints(t *testing.T) {
	idx := newTestIndexer(t)
	defer idx.Close()

	content := []byte("package main\n\nfunc calculateSum(a, b int) int {\n\treturn a + b\n}\n")
	points, err := idx.IndexFile(context.Background(), "src/a.go", "go", "hash1", content)
	require.NoError(t, err)
	require.NotEmpty(t, points)

	require.NoError(t, idx.RemoveFile(context.Background(), "src/a.go"))
	for _, p := range points {
		assert.False(t, idx.cfg.VectorStore.Contains(p.ID))
	}
}

func TestIndexer_ReindexSamePath_ReplacesOldPoints(t *testing.T) {
	idx := newTestIndexer(t)
	defer idx.Close()

	first := []byte("package main\n\nfunc calculateSum(a, b int) int {\n\treturn a + b\n}\n")
	firstPoints, err := idx.IndexFile(context.Background(), "src/a.go", "go", "hash1", first)
	require.NoError(t, err)

	second := []byte("package main\n\nfunc calcSum(a, b int) int {\n\treturn a + b\n}\n")
	secondPoints, err := idx.IndexFile(context.Background(), "src/a.go", "go", "hash2", second)
	require.NoError(t, err)

	for _, p := range firstPoints {
		assert.False(t, idx.cfg.VectorStore.Contains(p.ID), "stale point from prior hash must be removed")
	}
	for _, p := range secondPoints {
		assert.True(t, idx.cfg.VectorStore.Contains(p.ID))
	}
}

func TestIndexer_Search_FallsBackWhenDegraded(t *testing.T) {
	idx := New(Config{RepoID: "repo1"})
	results, err := idx.Search(context.Background(), "sum two numbers", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestIndexer_MoveFile_RelabelsWithoutReembedding(t *testing.T) {
	idx := newTestIndexer(t)
	defer idx.Close()

	content := []byte("package main\n\nfunc calculateSum(a, b int) int {\n\treturn a + b\n}\n")
	oldPoints, err := idx.IndexFile(context.Background(), "src/a.go", "go", "hash1", content)
	require.NoError(t, err)
	require.NotEmpty(t, oldPoints)

	require.NoError(t, idx.MoveFile(context.Background(), "src/a.go", "src/b.go", "hash1"))

	for _, p := range oldPoints {
		assert.False(t, idx.cfg.VectorStore.Contains(p.ID), "old points must be gone after move")
	}
	newIDs, ok := idx.pathIDs["src/b.go"]
	require.True(t, ok)
	require.Len(t, newIDs, len(oldPoints))
	for _, id := range newIDs {
		assert.True(t, idx.cfg.VectorStore.Contains(id))
		p, ok := idx.PointByID(id)
		require.True(t, ok)
		assert.Equal(t, "src/b.go", p.RelativePath)
	}
	_, stillThere := idx.pathIDs["src/a.go"]
	assert.False(t, stillThere)
}

func TestIndexer_MoveFile_NoopWhenPathUnknown(t *testing.T) {
	idx := newTestIndexer(t)
	defer idx.Close()

	assert.NoError(t, idx.MoveFile(context.Background(), "src/missing.go", "src/elsewhere.go", "hash1"))
}

func TestIndexer_Search_ReturnsResultsAfterIndexing(t *testing.T) {
	idx := newTestIndexer(t)
	defer idx.Close()

	content := []byte("package main\n\nfunc calculateSum(a, b int) int {\n\treturn a + b\n}\n")
	_, err := idx.IndexFile(context.Background(), "src/a.go", "go", "hash1", content)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), "calculateSum", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
