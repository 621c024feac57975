package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/codelens-dev/codelens/internal/clerrors"
)

// HNSWStore implements VectorStore using coder/hnsw, a pure-Go HNSW
// implementation, so the vector store carries no CGO dependency.
//
// Unlike a string-keyed store, points here are addressed directly by the
// caller's deterministic 64-bit id; there is no internal
// id-remapping layer.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	present map[uint64]struct{} // live ids; deleted ids are lazily orphaned in the graph
	closed  bool
}

type hnswMetadata struct {
	Present map[uint64]struct{}
	Config  VectorStoreConfig
}

// NewHNSWStore creates a new HNSW-based vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		present: make(map[uint64]struct{}),
	}, nil
}

// Add inserts vectors with their ids. If an id already exists, it is
// updated via lazy deletion followed by a fresh insert — coder/hnsw has no
// safe path to remove the final node in a graph, so replaced points are
// orphaned rather than physically removed.
func (s *HNSWStore) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return clerrors.New(clerrors.Internal, "ids and vectors length mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return clerrors.New(clerrors.VectorStoreUnavailable, "vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(id, vec))
		s.present[id] = struct{}{}
	}

	return nil
}

// Search finds the k nearest neighbors of query, skipping lazily-deleted
// points that still physically reside in the graph.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, clerrors.New(clerrors.VectorStoreUnavailable, "vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	// Over-fetch to compensate for orphaned nodes mixed into the result set.
	nodes := s.graph.Search(normalized, k*3+8)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		if _, live := s.present[node.Key]; !live {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       node.Key,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes vectors by id (lazily — see Add).
func (s *HNSWStore) Delete(ctx context.Context, ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return clerrors.New(clerrors.VectorStoreUnavailable, "vector store is closed")
	}
	for _, id := range ids {
		delete(s.present, id)
	}
	return nil
}

// AllIDs returns all live vector ids, for consistency checks against the
// metadata store.
func (s *HNSWStore) AllIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]uint64, 0, len(s.present))
	for id := range s.present {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether id is currently live.
func (s *HNSWStore) Contains(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.present[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.present)
}

// HNSWStats reports graph occupancy, including nodes orphaned by lazy
// deletion.
type HNSWStats struct {
	Live       int
	GraphNodes int
	Orphans    int
}

// Stats reports graph occupancy, including nodes orphaned by lazy deletion.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	live := len(s.present)
	total := s.graph.Len()
	return HNSWStats{Live: live, GraphNodes: total, Orphans: total - live}
}

// Save persists the index to disk using an atomic temp-file-then-rename.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return clerrors.New(clerrors.VectorStoreUnavailable, "vector store is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return clerrors.Wrap(clerrors.Internal, "create vector store directory", err).WithPath(dir)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "create vector index file", err).WithPath(tmpPath)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return clerrors.Wrap(clerrors.Internal, "export vector graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return clerrors.Wrap(clerrors.Internal, "close vector index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return clerrors.Wrap(clerrors.Internal, "rename vector index file", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "create vector metadata file", err)
	}
	meta := hnswMetadata{Present: s.present, Config: s.config}
	enc := gob.NewEncoder(file)
	if err := enc.Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return clerrors.Wrap(clerrors.Internal, "encode vector metadata", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return clerrors.Wrap(clerrors.Internal, "close vector metadata file", err)
	}
	return os.Rename(tmpPath, path)
}

// Load loads a previously-saved index from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return clerrors.New(clerrors.VectorStoreUnavailable, "vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "open vector index file", err).WithPath(path)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return clerrors.Wrap(clerrors.Internal, "import vector graph", err)
	}
	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return clerrors.Wrap(clerrors.Internal, "open vector metadata file", err).WithPath(path)
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return clerrors.Wrap(clerrors.Internal, "decode vector metadata", err)
	}
	s.present = meta.Present
	s.config = meta.Config
	return nil
}

// Close releases resources. coder/hnsw's Graph needs no explicit teardown.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWStoreDimensions reads the dimensions recorded in an existing
// store's sidecar metadata, returning 0 if none exists yet.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, clerrors.Wrap(clerrors.Internal, "open vector metadata file", err)
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, clerrors.Wrap(clerrors.Internal, "decode vector metadata", err)
	}
	return meta.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
