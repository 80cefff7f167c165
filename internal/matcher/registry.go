// Package matcher holds the registry of known faces and finds the closest
// known identity for a probe embedding.
package matcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmptyRegistry is returned when matching against a registry without faces.
	ErrEmptyRegistry = errors.New("no known faces registered")
	// ErrEmptyProbe is returned for a zero-length probe embedding.
	ErrEmptyProbe = errors.New("empty probe embedding")
	// ErrDimensionMismatch is returned when an embedding length differs from the registry dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDuplicateID is returned when enrolling an id that is already registered.
	ErrDuplicateID = errors.New("identity already registered")
	// ErrInvalidFace is returned for a face without an id or embedding.
	ErrInvalidFace = errors.New("invalid known face")
)

// KnownFace is an enrolled identity with its reference embedding.
type KnownFace struct {
	ID        string
	Name      string
	Embedding []float32
	CreatedAt time.Time
}

// Registry is an append-only, concurrency-safe list of known faces.
// All embeddings share the same length.
type Registry struct {
	mu    sync.RWMutex
	dim   int
	faces []KnownFace
	byID  map[string]int
}

// NewRegistry creates an empty registry. A dim of 0 lets the first
// enrolled face fix the embedding length.
func NewRegistry(dim int) *Registry {
	return &Registry{
		dim:  dim,
		byID: make(map[string]int),
	}
}

// Add appends a face to the registry.
func (r *Registry) Add(face KnownFace) error {
	if face.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidFace)
	}
	if len(face.Embedding) == 0 {
		return fmt.Errorf("%w: embedding is required", ErrInvalidFace)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dim == 0 {
		r.dim = len(face.Embedding)
	}
	if len(face.Embedding) != r.dim {
		return fmt.Errorf("%w: got %d, registry uses %d", ErrDimensionMismatch, len(face.Embedding), r.dim)
	}
	if _, ok := r.byID[face.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, face.ID)
	}

	// Own the embedding so callers cannot mutate registry state.
	face.Embedding = append([]float32(nil), face.Embedding...)
	if face.CreatedAt.IsZero() {
		face.CreatedAt = time.Now().UTC()
	}

	r.byID[face.ID] = len(r.faces)
	r.faces = append(r.faces, face)
	return nil
}

// AddAll adds faces in order and returns how many were added.
// Faces that fail validation are skipped and reported in the joined error.
func (r *Registry) AddAll(faces []KnownFace) (int, error) {
	var errs []error
	added := 0
	for i := range faces {
		if err := r.Add(faces[i]); err != nil {
			errs = append(errs, fmt.Errorf("face %q: %w", faces[i].ID, err))
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// Get returns the face registered under id.
func (r *Registry) Get(id string) (KnownFace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return KnownFace{}, false
	}
	return r.faces[i], true
}

// Snapshot returns the faces registered so far.
// The registry is append-only, so the returned slice is never modified and
// can be read without holding the lock.
func (r *Registry) Snapshot() []KnownFace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.faces[:len(r.faces):len(r.faces)]
}

// List returns all faces in enrollment order.
func (r *Registry) List() []KnownFace {
	return r.Snapshot()
}

// Search returns faces whose normalized name contains the normalized query.
// An empty query returns every face.
func (r *Registry) Search(name string) []KnownFace {
	faces := r.Snapshot()
	query := NormalizeName(name)
	if query == "" {
		return faces
	}

	var result []KnownFace
	for i := range faces {
		if strings.Contains(NormalizeName(faces[i].Name), query) {
			result = append(result, faces[i])
		}
	}
	return result
}

// Len returns the number of registered faces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.faces)
}

// Dim returns the embedding length, or 0 if not fixed yet.
func (r *Registry) Dim() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dim
}
