// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kozaktomas/face-matcher/internal/database"
)

// MockIdentityStore is an in-memory implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities []database.StoredIdentity

	// Error injection
	GetError         error
	ListError        error
	CountError       error
	FindNearestError error
	SaveError        error
	DeleteError      error
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{}
}

// AddIdentity adds an identity to the mock store without checks
func (m *MockIdentityStore) AddIdentity(identity database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
}

// Get retrieves an identity by id
func (m *MockIdentityStore) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.identities {
		if m.identities[i].ID == id {
			identity := m.identities[i]
			return &identity, nil
		}
	}
	return nil, nil
}

// GetMany retrieves identities by id in insertion order
func (m *MockIdentityStore) GetMany(ctx context.Context, ids []string) ([]database.StoredIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.StoredIdentity
	for _, identity := range m.identities {
		if wanted[identity.ID] {
			result = append(result, identity)
		}
	}
	return result, nil
}

// List returns all identities in insertion order
func (m *MockIdentityStore) List(ctx context.Context) ([]database.StoredIdentity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.StoredIdentity(nil), m.identities...), nil
}

// Count returns the number of identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// FindNearest returns identities sorted by Euclidean distance
func (m *MockIdentityStore) FindNearest(
	ctx context.Context, embedding []float32, limit int,
) ([]database.StoredIdentity, []float64, error) {
	if m.FindNearestError != nil {
		return nil, nil, m.FindNearestError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		identity database.StoredIdentity
		distance float64
	}
	var candidates []scored
	for _, identity := range m.identities {
		if len(identity.Embedding) != len(embedding) {
			continue
		}
		var sum float64
		for i := range embedding {
			d := float64(embedding[i]) - float64(identity.Embedding[i])
			sum += d * d
		}
		candidates = append(candidates, scored{identity, math.Sqrt(sum)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	identities := make([]database.StoredIdentity, len(candidates))
	distances := make([]float64, len(candidates))
	for i, c := range candidates {
		identities[i] = c.identity
		distances[i] = c.distance
	}
	return identities, distances, nil
}

// Save stores an identity, rejecting duplicate ids
func (m *MockIdentityStore) Save(ctx context.Context, identity database.StoredIdentity) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.identities {
		if m.identities[i].ID == identity.ID {
			return database.ErrIdentityExists
		}
	}
	m.identities = append(m.identities, identity)
	return nil
}

// Delete removes an identity by id
func (m *MockIdentityStore) Delete(ctx context.Context, id string) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.identities {
		if m.identities[i].ID == id {
			m.identities = append(m.identities[:i], m.identities[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

var _ database.IdentityWriter = (*MockIdentityStore)(nil)
