package reposvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/config"
	"github.com/codelens-dev/codelens/internal/dispatcher"
	"github.com/codelens-dev/codelens/internal/indexengine"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/plugin"
	"github.com/codelens-dev/codelens/internal/scanner"
	"github.com/codelens-dev/codelens/internal/store"
)

func newTestHandle(t *testing.T, content string) *RepoHandle {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(content), 0o644))

	metadata, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	lexical, err := store.NewSQLiteLexicalIndex("", store.DefaultCodeStopWords)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	reg := langreg.NewRegistry()
	cache := langreg.NewPluginCache(0)
	plugin.RegisterAll(reg, cache)

	sc, err := scanner.New()
	require.NoError(t, err)

	repoID := DeriveRepoID(root)
	require.NoError(t, metadata.SaveRepository(context.Background(), &store.Repository{ID: repoID, RootPath: root}))

	engine := indexengine.New(indexengine.Config{
		RepoID: repoID, RootPath: root,
		Metadata: metadata, Lexical: lexical,
		Registry: reg, Cache: cache, Scanner: sc,
	})
	d := dispatcher.New(dispatcher.Config{
		RepoID: repoID, RootPath: root,
		Metadata: metadata, Lexical: lexical, Engine: engine,
	})

	indexed, err := d.IndexFile(context.Background(), "main.go")
	require.NoError(t, err)
	require.True(t, indexed)

	return &RepoHandle{RepoID: repoID, RootPath: root, Dispatcher: d, Cache: cache}
}

func TestManager_RegisterReference_DeniedWithoutAllowList(t *testing.T) {
	primary := newTestHandle(t, "package main\nfunc one() {}\n")
	secondary := newTestHandle(t, "package main\nfunc two() {}\n")

	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{Enabled: true}, "minimal")
	m.RegisterPrimary(primary)

	err := m.RegisterReference(secondary)
	require.Error(t, err)
	assert.Equal(t, clerrors.Unauthorized, clerrors.KindOf(err))
}

func TestManager_RegisterReference_AllowedWhenListed(t *testing.T) {
	primary := newTestHandle(t, "package main\nfunc one() {}\n")
	secondary := newTestHandle(t, "package main\nfunc two() {}\n")

	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{Enabled: true, ReferenceRepos: []string{secondary.RepoID}}, "minimal")
	m.RegisterPrimary(primary)

	require.NoError(t, m.RegisterReference(secondary))
	require.NoError(t, m.Authorize(secondary.RepoID))
}

func TestManager_Authorize_PrimaryAlwaysAllowed(t *testing.T) {
	primary := newTestHandle(t, "package main\nfunc one() {}\n")
	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{Enabled: false}, "minimal")
	m.RegisterPrimary(primary)

	require.NoError(t, m.Authorize(primary.RepoID))
}

func TestManager_Search_FusesAcrossAuthorizedRepos(t *testing.T) {
	primary := newTestHandle(t, "package main\n\nfunc calculateTotal(a, b int) int {\n\treturn a + b\n}\n")
	secondary := newTestHandle(t, "package main\n\nfunc calculateTotal(x, y int) int {\n\treturn x * y\n}\n")

	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{Enabled: true, ReferenceRepos: []string{secondary.RepoID}}, "minimal")
	m.RegisterPrimary(primary)
	require.NoError(t, m.RegisterReference(secondary))

	outcome, err := m.Search(context.Background(), []string{primary.RepoID, secondary.RepoID}, "calculateTotal", dispatcher.ModeLexical, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Results)

	seenRepos := map[string]bool{}
	for _, r := range outcome.Results {
		seenRepos[r.RepoID] = true
	}
	assert.Len(t, seenRepos, 2, "results should be annotated with both contributing repo ids")
}

func TestManager_Search_RejectsUnauthorizedRepo(t *testing.T) {
	primary := newTestHandle(t, "package main\nfunc one() {}\n")
	secondary := newTestHandle(t, "package main\nfunc two() {}\n")

	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{Enabled: true}, "minimal")
	m.RegisterPrimary(primary)
	m.repos[secondary.RepoID] = secondary // registered but never authorized via RegisterReference

	_, err := m.Search(context.Background(), []string{primary.RepoID, secondary.RepoID}, "calculateTotal", dispatcher.ModeLexical, 10, "")
	require.Error(t, err)
}

func TestManager_PreloadPlugins_AllStrategyLoadsGoPlugin(t *testing.T) {
	primary := newTestHandle(t, "package main\nfunc one() {}\n")
	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{}, "all")
	m.RegisterPrimary(primary)

	m.PreloadPlugins(context.Background(), primary, nil)
	stats := primary.Cache.Stats()
	assert.Greater(t, stats.ResidentLanguages, 0)
}

func TestManager_Unregister_RemovesHandle(t *testing.T) {
	primary := newTestHandle(t, "package main\nfunc one() {}\n")
	reg := langreg.NewRegistry()
	m := NewManager(reg, config.MultiRepoConfig{}, "minimal")
	m.RegisterPrimary(primary)

	m.Unregister(primary.RepoID)
	_, ok := m.Get(primary.RepoID)
	assert.False(t, ok)
}
