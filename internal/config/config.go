// Package config loads and validates engine configuration, layering
// hardcoded defaults, a user-global YAML file, a project-local YAML file,
// and environment variable overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	IndexRoot string       `yaml:"index_root" json:"index_root"`
	Search    SearchConfig `yaml:"search" json:"search"`
	Plugins   PluginConfig `yaml:"plugins" json:"plugins"`
	MultiRepo MultiRepoConfig `yaml:"multi_repo" json:"multi_repo"`
	Semantic  SemanticConfig  `yaml:"semantic" json:"semantic"`
	Index     IndexEngineConfig `yaml:"index" json:"index"`
	Watch     WatchConfig  `yaml:"watch" json:"watch"`
	Store     StoreConfig  `yaml:"store" json:"store"`
	LogLevel  string       `yaml:"log_level" json:"log_level"`
}

// SearchConfig configures the hybrid query planner.
type SearchConfig struct {
	// Retriever weights for reciprocal rank fusion. Default 1.0 each.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	FuzzyWeight   float64 `yaml:"fuzzy_weight" json:"fuzzy_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`

	// RRFConstant is the fusion smoothing constant k. Default 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// Per-retriever soft deadlines, in milliseconds.
	LexicalDeadlineMS int `yaml:"lexical_deadline_ms" json:"lexical_deadline_ms"`
	FuzzyDeadlineMS   int `yaml:"fuzzy_deadline_ms" json:"fuzzy_deadline_ms"`
	VectorDeadlineMS  int `yaml:"vector_deadline_ms" json:"vector_deadline_ms"`

	MaxResults int `yaml:"max_results" json:"max_results"`

	// QueryCacheSize and QueryCacheTTLSeconds bound the dispatcher's
	// query result cache.
	QueryCacheSize       int `yaml:"query_cache_size" json:"query_cache_size"`
	QueryCacheTTLSeconds int `yaml:"query_cache_ttl_seconds" json:"query_cache_ttl_seconds"`
}

// PluginConfig configures the language plugin factory and cache.
type PluginConfig struct {
	// Strategy is one of "auto", "all", "minimal" (MCP_PLUGIN_STRATEGY).
	Strategy string `yaml:"strategy" json:"strategy"`

	// MaxMemoryMB bounds resident plugin instances (MCP_MAX_MEMORY_MB).
	MaxMemoryMB int `yaml:"max_memory_mb" json:"max_memory_mb"`

	// MinFreeMB is the floor the cache leaves free (MCP_MIN_FREE_MB).
	MinFreeMB int `yaml:"min_free_mb" json:"min_free_mb"`

	// LoadTimeoutSeconds bounds first-time plugin construction
	// (MCP_PLUGIN_LOAD_TIMEOUT_SECONDS).
	LoadTimeoutSeconds int `yaml:"load_timeout_seconds" json:"load_timeout_seconds"`
}

// MultiRepoConfig configures cross-repository search.
type MultiRepoConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ReferenceRepos is the explicit authorization allow-list
	// (MCP_REFERENCE_REPOS); anything not listed is denied.
	ReferenceRepos []string `yaml:"reference_repos" json:"reference_repos"`
}

// SemanticConfig configures the optional vector indexer.
type SemanticConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim" json:"embedding_dim"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" json:"call_timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
}

// IndexEngineConfig configures the parse/extract/persist pipeline.
type IndexEngineConfig struct {
	Workers               int `yaml:"workers" json:"workers"`
	TransactionBatchSize  int `yaml:"transaction_batch_size" json:"transaction_batch_size"`
	ParseQueueSize        int `yaml:"parse_queue_size" json:"parse_queue_size"`
	ParseTimeoutSeconds   int `yaml:"parse_timeout_seconds" json:"parse_timeout_seconds"`
	MaxFileSizeBytes      int64 `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	ProgressIntervalMS    int `yaml:"progress_interval_ms" json:"progress_interval_ms"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	DebounceMS       int      `yaml:"debounce_ms" json:"debounce_ms"`
	MoveGraceMS      int      `yaml:"move_grace_ms" json:"move_grace_ms"`
	IgnorePatterns   []string `yaml:"ignore_patterns" json:"ignore_patterns"`
	SecretPatterns   []string `yaml:"secret_patterns" json:"secret_patterns"`
}

// StoreConfig configures the structured store.
type StoreConfig struct {
	BusyTimeoutSeconds      int `yaml:"busy_timeout_seconds" json:"busy_timeout_seconds"`
	CompactionRetentionDays int `yaml:"compaction_retention_days" json:"compaction_retention_days"`
}

var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"target/",
	"build/",
	"vendor/",
	"dist/",
	"__pycache__/",
}

var defaultSecretPatterns = []string{
	".env", ".env.*", "*.pem", "*.key", "*.p12", "*.pfx",
	"*credentials*", "*secrets*", "id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
	".netrc", ".npmrc", ".pypirc",
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		IndexRoot: DefaultIndexRoot(),
		Search: SearchConfig{
			LexicalWeight:        1.0,
			FuzzyWeight:          1.0,
			VectorWeight:         1.0,
			RRFConstant:          60,
			LexicalDeadlineMS:    150,
			FuzzyDeadlineMS:      150,
			VectorDeadlineMS:     250,
			MaxResults:           20,
			QueryCacheSize:       10000,
			QueryCacheTTLSeconds: 300,
		},
		Plugins: PluginConfig{
			Strategy:           "auto",
			MaxMemoryMB:        1024,
			MinFreeMB:          256,
			LoadTimeoutSeconds: 5,
		},
		MultiRepo: MultiRepoConfig{
			Enabled:        false,
			ReferenceRepos: nil,
		},
		Semantic: SemanticConfig{
			Enabled:            false,
			EmbeddingModel:     "",
			EmbeddingDim:       0,
			BatchSize:          32,
			CallTimeoutSeconds: 5,
			MaxRetries:         3,
		},
		Index: IndexEngineConfig{
			Workers:              min(8, runtime.NumCPU()),
			TransactionBatchSize: 64,
			ParseQueueSize:       256,
			ParseTimeoutSeconds:  30,
			MaxFileSizeBytes:     100 * 1024 * 1024,
			ProgressIntervalMS:   500,
		},
		Watch: WatchConfig{
			DebounceMS:     200,
			MoveGraceMS:    500,
			IgnorePatterns: append([]string(nil), defaultIgnorePatterns...),
			SecretPatterns: append([]string(nil), defaultSecretPatterns...),
		},
		Store: StoreConfig{
			BusyTimeoutSeconds:      5,
			CompactionRetentionDays: 30,
		},
		LogLevel: "info",
	}
}

// DefaultIndexRoot returns ~/.mcp/indexes, or a temp-dir fallback.
func DefaultIndexRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mcp", "indexes")
	}
	return filepath.Join(home, ".mcp", "indexes")
}

// GetUserConfigPath follows XDG: $XDG_CONFIG_HOME/codelens/config.yaml, else
// ~/.config/codelens/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codelens", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codelens", "config.yaml")
	}
	return filepath.Join(home, ".config", "codelens", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user config file.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user-global config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds a Config by layering, in increasing precedence: hardcoded
// defaults, the user-global config file, a project-local .codelens.yaml in
// dir, and MCP_* environment variables. The result is validated.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.mergeYAML(path); err != nil {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	for _, name := range []string{".codelens.yaml", ".codelens.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.mergeYAML(path); err != nil {
				return nil, fmt.Errorf("loading project config: %w", err)
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvOverrides applies the MCP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MCP_INDEX_ROOT"); v != "" {
		c.IndexRoot = v
	}
	if v := os.Getenv("MCP_PLUGIN_STRATEGY"); v != "" {
		c.Plugins.Strategy = v
	}
	if v := envInt("MCP_MAX_MEMORY_MB"); v != nil {
		c.Plugins.MaxMemoryMB = *v
	}
	if v := envInt("MCP_MIN_FREE_MB"); v != nil {
		c.Plugins.MinFreeMB = *v
	}
	if v := envInt("MCP_PLUGIN_LOAD_TIMEOUT_SECONDS"); v != nil {
		c.Plugins.LoadTimeoutSeconds = *v
	}
	if v := os.Getenv("MCP_ENABLE_MULTI_REPO"); v != "" {
		c.MultiRepo.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MCP_REFERENCE_REPOS"); v != "" {
		var repos []string
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				repos = append(repos, part)
			}
		}
		c.MultiRepo.ReferenceRepos = repos
	}
	if v := os.Getenv("MCP_SEMANTIC_ENABLED"); v != "" {
		c.Semantic.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MCP_EMBEDDING_MODEL"); v != "" {
		c.Semantic.EmbeddingModel = v
	}
	if v := envInt("MCP_EMBEDDING_DIM"); v != nil {
		c.Semantic.EmbeddingDim = *v
	}
}

func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate checks invariants the rest of the engine relies on.
func (c *Config) Validate() error {
	if c.Search.LexicalWeight < 0 || c.Search.FuzzyWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	validStrategies := map[string]bool{"auto": true, "all": true, "minimal": true}
	if !validStrategies[c.Plugins.Strategy] {
		return fmt.Errorf("plugins.strategy must be 'auto', 'all', or 'minimal', got %q", c.Plugins.Strategy)
	}
	if c.Plugins.MaxMemoryMB <= 0 {
		return fmt.Errorf("plugins.max_memory_mb must be positive, got %d", c.Plugins.MaxMemoryMB)
	}

	if c.Semantic.EmbeddingDim < 0 {
		return fmt.Errorf("semantic.embedding_dim must be non-negative, got %d", c.Semantic.EmbeddingDim)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel)
	}

	return nil
}

// WriteYAML serializes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
