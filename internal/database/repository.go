package database

import (
	"context"
)

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// Get retrieves an identity by id, returns nil if not found
	Get(ctx context.Context, id string) (*StoredIdentity, error)
	// GetMany retrieves the identities with the given ids in enrollment order, skipping unknown ids
	GetMany(ctx context.Context, ids []string) ([]StoredIdentity, error)
	// List returns all identities in enrollment order
	List(ctx context.Context) ([]StoredIdentity, error)
	// Count returns the total number of identities stored
	Count(ctx context.Context) (int, error)
	// FindNearest returns up to limit identities closest to embedding by Euclidean distance
	FindNearest(ctx context.Context, embedding []float32, limit int) ([]StoredIdentity, []float64, error)
}

// IdentityWriter provides write access to enrolled identities
type IdentityWriter interface {
	IdentityReader

	// Save stores a new identity. Returns ErrIdentityExists if the id is taken.
	Save(ctx context.Context, identity StoredIdentity) error

	// Delete removes an identity. Returns false if it did not exist.
	Delete(ctx context.Context, id string) (bool, error)
}
