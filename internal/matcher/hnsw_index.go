package matcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	FaceCount   int       `json:"face_count"`
	Fingerprint string    `json:"fingerprint"`
	Dim         int       `json:"dim"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 1

// HNSWIndex wraps an HNSW graph over registry positions. Because the
// registry is append-only, node keys are positions in the registry
// snapshot and staying in sync means adding the tail.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	ids   []string // registry ids in position order, for staleness checks
	dim   int
	path  string // Path to save/load index
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build rebuilds the index from scratch.
func (h *HNSWIndex) Build(faces []KnownFace) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buildLocked(faces)
}

func (h *HNSWIndex) buildLocked(faces []KnownFace) error {
	h.graph = nil
	h.ids = nil
	h.dim = 0
	if len(faces) == 0 {
		return nil
	}
	h.graph = newGraph()
	return h.appendLocked(faces)
}

func (h *HNSWIndex) appendLocked(faces []KnownFace) error {
	if h.graph == nil {
		h.graph = newGraph()
	}
	for i := range faces {
		if h.dim == 0 {
			h.dim = len(faces[i].Embedding)
		}
		if len(faces[i].Embedding) != h.dim {
			return fmt.Errorf("%w: face %s", ErrDimensionMismatch, faces[i].ID)
		}
		key := int64(len(h.ids))
		h.graph.Add(hnsw.MakeNode(key, faces[i].Embedding))
		h.ids = append(h.ids, faces[i].ID)
	}
	return nil
}

// inSync reports whether the index covers exactly the given snapshot.
func (h *HNSWIndex) inSync(faces []KnownFace) bool {
	n := len(h.ids)
	if n != len(faces) {
		return false
	}
	return n == 0 || h.ids[n-1] == faces[n-1].ID
}

// Sync adds faces enrolled since the last call. If the snapshot does not
// extend what the index holds, the index is rebuilt.
func (h *HNSWIndex) Sync(faces []KnownFace) error {
	h.mu.RLock()
	ok := h.inSync(faces)
	h.mu.RUnlock()
	if ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inSync(faces) {
		return nil
	}

	n := len(h.ids)
	if n > len(faces) || (n > 0 && h.ids[n-1] != faces[n-1].ID) {
		return h.buildLocked(faces)
	}
	return h.appendLocked(faces[n:])
}

// Search finds the k nearest registry positions to the query embedding.
func (h *HNSWIndex) Search(query []float32, k int) ([]int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.ids) == 0 {
		return nil, errors.New("index not initialized")
	}
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: query has %d values, index uses %d", ErrDimensionMismatch, len(query), h.dim)
	}

	neighbors := h.graph.Search(query, min(k, len(h.ids)))
	keys := make([]int64, len(neighbors))
	for i, n := range neighbors {
		keys[i] = n.Key
	}
	return keys, nil
}

// Count returns the number of indexed faces.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// SetPath sets the path for saving the index.
func (h *HNSWIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// Path returns the path the index is saved to, or "" when it is memory-only.
func (h *HNSWIndex) Path() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path
}

// Save persists the index and its metadata to the configured path.
func (h *HNSWIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil // No path set
	}

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(h.path)
		_ = os.Remove(h.path + ".meta")
		return nil
	}

	f, err := os.Create(h.path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}

	metadata := HNSWIndexMetadata{
		FaceCount:   len(h.ids),
		Fingerprint: fingerprint(h.ids),
		Dim:         h.dim,
		BuildTime:   time.Now().UTC(),
		Version:     hnswMetadataVersion,
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(h.path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load restores a saved index when it was built from exactly these faces.
// It returns false when there is no usable file and the caller should Build.
func (h *HNSWIndex) Load(path string, faces []KnownFace) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	metadata, err := LoadHNSWMetadata(path)
	if err != nil {
		return false, err
	}
	if metadata.Version != hnswMetadataVersion || metadata.FaceCount != len(faces) {
		return false, nil
	}

	ids := make([]string, len(faces))
	for i := range faces {
		ids[i] = faces[i].ID
	}
	if metadata.Fingerprint != fingerprint(ids) {
		return false, nil
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return false, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	if saved.Len() != len(faces) {
		return false, nil
	}

	h.graph = saved.Graph
	h.ids = ids
	h.dim = metadata.Dim
	return true, nil
}

func fingerprint(ids []string) string {
	hash := fnv.New64a()
	for _, id := range ids {
		hash.Write([]byte(id))
		hash.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", hash.Sum64())
}
