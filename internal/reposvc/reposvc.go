// Package reposvc manages multiple concurrently open repositories: it holds
// one dispatcher.Dispatcher per repo, enforces the explicit authorization
// list before a non-primary repo is queried, drives plugin pre-loading by
// strategy, and fuses search results across repos using the same
// reciprocal-rank-fusion rule the single-repo dispatcher uses internally.
package reposvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codelens-dev/codelens/internal/clerrors"
	"github.com/codelens-dev/codelens/internal/config"
	"github.com/codelens-dev/codelens/internal/dispatcher"
	"github.com/codelens-dev/codelens/internal/langreg"
)

// DeriveRepoID derives a stable repo id from its absolute root path. The
// domain model's comment on store.Repository.ID also allows a git-remote
// digest; this module has no git client dependency to resolve one, so the
// path-hash fallback is the only strategy implemented.
func DeriveRepoID(absoluteRootPath string) string {
	sum := sha256.Sum256([]byte(absoluteRootPath))
	return hex.EncodeToString(sum[:])[:12]
}

// RepoHandle is one repository registered with the Manager: its id, root,
// the Dispatcher that serves its queries, and the plugin cache backing its
// index engine, which PreloadPlugins and eviction stats operate on.
type RepoHandle struct {
	RepoID     string
	RootPath   string
	Dispatcher *dispatcher.Dispatcher
	Cache      *langreg.PluginCache
	Primary    bool
}

// Manager holds every open repository and the cross-repo search/auth rules
// layered on top of them.
type Manager struct {
	mu       sync.RWMutex
	repos    map[string]*RepoHandle
	primary  string
	registry *langreg.Registry
	cfg      config.MultiRepoConfig
	strategy string
	authSet  map[string]struct{}
}

// NewManager constructs a Manager. strategy is one of "auto"/"all"/"minimal"
// (config.PluginConfig.Strategy); cfg carries the MCP_ENABLE_MULTI_REPO /
// MCP_REFERENCE_REPOS authorization settings.
func NewManager(registry *langreg.Registry, cfg config.MultiRepoConfig, strategy string) *Manager {
	authSet := make(map[string]struct{}, len(cfg.ReferenceRepos))
	for _, r := range cfg.ReferenceRepos {
		authSet[r] = struct{}{}
	}
	return &Manager{
		repos:    make(map[string]*RepoHandle),
		registry: registry,
		cfg:      cfg,
		strategy: strategy,
		authSet:  authSet,
	}
}

// RegisterPrimary registers handle as the primary repository: always
// authorized, and the one "auto" preloading observes language frequency
// from.
func (m *Manager) RegisterPrimary(handle *RepoHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle.Primary = true
	m.repos[handle.RepoID] = handle
	m.primary = handle.RepoID
}

// RegisterReference registers handle as a secondary, cross-repo-searchable
// repository. It is rejected with clerrors.Unauthorized unless multi-repo
// is enabled and handle's root path or repo id appears in the
// MCP_REFERENCE_REPOS allow-list (the resolved open question: an
// explicit allow-list, never an implicit "anything reachable" policy).
func (m *Manager) RegisterReference(handle *RepoHandle) error {
	if err := m.authorizeNew(handle.RepoID, handle.RootPath); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	handle.Primary = false
	m.repos[handle.RepoID] = handle
	return nil
}

func (m *Manager) authorizeNew(repoID, rootPath string) error {
	if !m.cfg.Enabled {
		return clerrors.New(clerrors.Unauthorized, "multi-repo access is disabled").WithPath(rootPath)
	}
	if _, ok := m.authSet[repoID]; ok {
		return nil
	}
	if _, ok := m.authSet[rootPath]; ok {
		return nil
	}
	return clerrors.New(clerrors.Unauthorized, "repo is not in MCP_REFERENCE_REPOS").WithPath(rootPath).WithData("repo_id", repoID)
}

// Authorize reports whether repoID may currently be queried: the primary
// repo always is, any other registered repo must have cleared
// RegisterReference's allow-list check already.
func (m *Manager) Authorize(repoID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.repos[repoID]
	if !ok {
		return clerrors.New(clerrors.NotFound, "repo not registered").WithData("repo_id", repoID)
	}
	if handle.Primary || repoID == m.primary {
		return nil
	}
	return m.authorizeNew(handle.RepoID, handle.RootPath)
}

// Get returns the registered handle for repoID.
func (m *Manager) Get(repoID string) (*RepoHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.repos[repoID]
	return h, ok
}

// Unregister drops repoID, releasing its cache memory via Purge.
func (m *Manager) Unregister(repoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.repos[repoID]; ok {
		if h.Cache != nil {
			h.Cache.Purge()
		}
		delete(m.repos, repoID)
	}
}

// RepoIDs lists every registered repo id, primary first.
func (m *Manager) RepoIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.repos))
	if _, ok := m.repos[m.primary]; ok {
		ids = append(ids, m.primary)
	}
	for id := range m.repos {
		if id != m.primary {
			ids = append(ids, id)
		}
	}
	return ids
}

// PreloadPlugins primes handle's plugin cache according to the configured
// strategy: "all" loads every registered language's plugin,
// "auto" loads only observedLanguages (the distinct languages present in
// the repo's files, aggregated by the caller from store.MetadataStore),
// and "minimal" loads nothing, deferring construction to the first file
// that needs it.
func (m *Manager) PreloadPlugins(ctx context.Context, handle *RepoHandle, observedLanguages []string) {
	if handle.Cache == nil {
		return
	}
	switch m.strategy {
	case "all":
		for id := range m.registry.Languages() {
			m.preloadOne(ctx, handle, id)
		}
	case "auto":
		for _, id := range observedLanguages {
			m.preloadOne(ctx, handle, id)
		}
	default: // "minimal" or unrecognized: load on demand only
	}
}

func (m *Manager) preloadOne(ctx context.Context, handle *RepoHandle, languageID string) {
	lang, ok := m.registry.ByID(languageID)
	if !ok {
		return
	}
	// Preload failures are not fatal: the same language is retried lazily
	// on the first file that actually needs it, through the ordinary
	// PluginCache.Get path inside the index engine.
	_, _ = handle.Cache.Get(ctx, lang)
}

// CrossRepoResult is one search hit annotated with the repo it came from.
type CrossRepoResult struct {
	dispatcher.SearchResult
	RepoID string
}

// CrossRepoOutcome is the merged result of a Search call spanning multiple
// repos.
type CrossRepoOutcome struct {
	Results  []CrossRepoResult
	Degraded bool
}

// Search runs query against every repo in repoIDs in parallel, each
// authorized first, then fuses the per-repo ranked lists with the same
// reciprocal-rank-fusion rule the single-repo dispatcher applies across its
// own retrievers, with each result annotated with its source repo_id.
func (m *Manager) Search(ctx context.Context, repoIDs []string, query string, mode dispatcher.Mode, limit int, languageFilter string) (*CrossRepoOutcome, error) {
	handles := make([]*RepoHandle, 0, len(repoIDs))
	for _, id := range repoIDs {
		if err := m.Authorize(id); err != nil {
			return nil, err
		}
		h, ok := m.Get(id)
		if !ok {
			return nil, clerrors.New(clerrors.NotFound, "repo not registered").WithData("repo_id", id)
		}
		handles = append(handles, h)
	}

	fanOutLimit := limit * 3
	if fanOutLimit <= 0 {
		fanOutLimit = limit
	}

	results := make([]perRepoOutcome, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			outcome, err := h.Dispatcher.Search(gctx, query, mode, fanOutLimit, languageFilter)
			if err != nil {
				return nil // a failed repo contributes nothing, it does not fail the whole cross-repo query
			}
			results[i] = perRepoOutcome{repoID: h.RepoID, outcome: outcome}
			return nil
		})
	}
	_ = g.Wait()

	merged := fuseAcrossRepos(results, limit)
	degraded := false
	for _, r := range results {
		if r.outcome != nil && r.outcome.Degraded {
			degraded = true
		}
	}
	return &CrossRepoOutcome{Results: merged, Degraded: degraded}, nil
}

// perRepoOutcome pairs a repo id with its (possibly nil, on failure)
// single-repo search outcome, for fuseAcrossRepos to combine.
type perRepoOutcome struct {
	repoID  string
	outcome *dispatcher.SearchOutcome
}

type repoResultKey struct {
	repoID       string
	relativePath string
	line         int
	symbolID     string
}

// fuseAcrossRepos applies the same RRF rule dispatcher.Fuser uses within a
// single repo, treating each repo's already-fused, rank-ordered result
// list as one source: score(d) = Σ_repo 1/(k+rank_repo(d)). Ties break by
// repo id then relative path then line, for determinism across runs.
func fuseAcrossRepos(perRepoResults []perRepoOutcome, limit int) []CrossRepoResult {
	type scored struct {
		CrossRepoResult
		score float64
	}
	byKey := make(map[repoResultKey]*scored)
	for _, pr := range perRepoResults {
		if pr.outcome == nil {
			continue
		}
		for rank, res := range pr.outcome.Results {
			key := repoResultKey{repoID: pr.repoID, relativePath: res.RelativePath, line: res.Line, symbolID: res.SymbolID}
			s, ok := byKey[key]
			if !ok {
				s = &scored{CrossRepoResult: CrossRepoResult{SearchResult: res, RepoID: pr.repoID}}
				byKey[key] = s
			}
			s.score += 1.0 / float64(dispatcher.DefaultRRFConstant+rank+1)
		}
	}

	all := make([]*scored, 0, len(byKey))
	for _, s := range byKey {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].RepoID != all[j].RepoID {
			return all[i].RepoID < all[j].RepoID
		}
		if all[i].RelativePath != all[j].RelativePath {
			return all[i].RelativePath < all[j].RelativePath
		}
		return all[i].Line < all[j].Line
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]CrossRepoResult, len(all))
	for i, s := range all {
		out[i] = s.CrossRepoResult
		out[i].Score = s.score
	}
	return out
}

// CacheStats reports each registered repo's plugin cache occupancy, for
// the get_status() plugin_cache_stats field.
type CacheStats struct {
	RepoID string
	Stats  langreg.Stats
}

// PluginCacheStats returns CacheStats for every registered repo.
func (m *Manager) PluginCacheStats() []CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CacheStats, 0, len(m.repos))
	for id, h := range m.repos {
		if h.Cache == nil {
			continue
		}
		out = append(out, CacheStats{RepoID: id, Stats: h.Cache.Stats()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out
}
