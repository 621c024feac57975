package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codelens-dev/codelens/internal/config"
	"github.com/codelens-dev/codelens/internal/dispatcher"
	"github.com/codelens-dev/codelens/internal/embed"
	"github.com/codelens-dev/codelens/internal/indexengine"
	"github.com/codelens-dev/codelens/internal/langreg"
	"github.com/codelens-dev/codelens/internal/plugin"
	"github.com/codelens-dev/codelens/internal/reposvc"
	"github.com/codelens-dev/codelens/internal/scanner"
	"github.com/codelens-dev/codelens/internal/semantic"
	"github.com/codelens-dev/codelens/internal/store"
)

// repoHandle bundles a Dispatcher with the resources bootstrapRepo opened
// for it, so callers can run one operation and release everything with a
// single Close.
type repoHandle struct {
	dispatcher  *dispatcher.Dispatcher
	cfg         *config.Config
	dataDir     string
	vectorPath  string
	sidecarPath string
	vector      store.VectorStore
	sem         *semantic.Indexer
	lock        *store.RepoLock

	metadata *store.SQLiteMetadataStore
	lexical  *store.SQLiteLexicalIndex
}

// bootstrapRepo opens (creating if absent) the on-disk stores for the
// repository rooted at path, registers it in config.IndexRoot's per-repo
// data directory keyed by reposvc.DeriveRepoID, and wires a Dispatcher
// against them, following the same construction sequence as
// internal/dispatcher's and internal/reposvc's integration tests.
func bootstrapRepo(ctx context.Context, path string) (*repoHandle, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("access root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	repoID := reposvc.DeriveRepoID(absRoot)
	dataDir := filepath.Join(cfg.IndexRoot, repoID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := store.NewRepoLock(dataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("repository %s is already open in another codelensd process (lock: %s)", absRoot, lock.Path())
	}

	metadata, err := store.NewSQLiteMetadataStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	lexical, err := store.NewSQLiteLexicalIndex(filepath.Join(dataDir, "lexical.db"), store.DefaultCodeStopWords)
	if err != nil {
		_ = metadata.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	if err := metadata.SaveRepository(ctx, &store.Repository{ID: repoID, RootPath: absRoot}); err != nil {
		_ = lexical.Close()
		_ = metadata.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("save repository: %w", err)
	}

	registry := langreg.NewRegistry()
	cache := langreg.NewPluginCache(int64(cfg.Plugins.MaxMemoryMB) * 1024 * 1024)
	plugin.RegisterAll(registry, cache)

	sc, err := scanner.New()
	if err != nil {
		_ = lexical.Close()
		_ = metadata.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	engine := indexengine.New(indexengine.Config{
		RepoID:   repoID,
		RootPath: absRoot,
		Metadata: metadata,
		Lexical:  lexical,
		Registry: registry,
		Cache:    cache,
		Scanner:  sc,
	})

	h := &repoHandle{cfg: cfg, dataDir: dataDir, metadata: metadata, lexical: lexical, lock: lock}

	dcfg := dispatcher.Config{
		RepoID:   repoID,
		RootPath: absRoot,
		Metadata: metadata,
		Lexical:  lexical,
		Engine:   engine,
	}

	if cfg.Semantic.Enabled {
		embedder := embed.NewStaticEmbedder()
		h.vectorPath = filepath.Join(dataDir, "vectors.hnsw")
		h.sidecarPath = filepath.Join(dataDir, "payloads.gob")

		vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
		if err != nil {
			_ = embedder.Close()
			_ = lexical.Close()
			_ = metadata.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("create vector store: %w", err)
		}
		if _, statErr := os.Stat(h.vectorPath); statErr == nil {
			if loadErr := vector.Load(h.vectorPath); loadErr != nil {
				return nil, fmt.Errorf("load vector store: %w", loadErr)
			}
		}
		h.vector = vector

		sem := semantic.New(semantic.Config{
			RepoID:      repoID,
			Embedder:    embedder,
			VectorStore: vector,
			Registry:    registry,
			BatchSize:   cfg.Semantic.BatchSize,
			MaxRetries:  cfg.Semantic.MaxRetries,
		})
		if _, statErr := os.Stat(h.sidecarPath); statErr == nil {
			if loadErr := sem.LoadPayloads(h.sidecarPath); loadErr != nil {
				return nil, fmt.Errorf("load semantic sidecar: %w", loadErr)
			}
		}
		h.sem = sem
		dcfg.Semantic = sem
	}

	h.dispatcher = dispatcher.New(dcfg)
	return h, nil
}

// Close persists any semantic indexer state and releases every store
// bootstrapRepo opened.
func (h *repoHandle) Close() error {
	if h.sem != nil {
		if err := h.sem.SavePayloads(h.sidecarPath); err != nil {
			return fmt.Errorf("save semantic sidecar: %w", err)
		}
		h.sem.Close()
	}
	if h.vector != nil {
		if err := h.vector.Save(h.vectorPath); err != nil {
			return fmt.Errorf("save vector store: %w", err)
		}
		if err := h.vector.Close(); err != nil {
			return err
		}
	}
	if err := h.lexical.Close(); err != nil {
		return err
	}
	if err := h.metadata.Close(); err != nil {
		return err
	}
	return h.lock.Unlock()
}
