package database

import (
	"errors"
	"time"
)

// ErrIdentityExists is returned when saving an identity whose id is already stored.
var ErrIdentityExists = errors.New("identity already exists")

// StoredIdentity represents an enrolled face stored in the database
type StoredIdentity struct {
	ID        string
	Name      string
	Embedding []float32
	Dim       int
	CreatedAt time.Time
}
