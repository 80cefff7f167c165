package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository provides PostgreSQL-backed storage of enrolled identities.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = "id, name, embedding, dim, created_at"

// Get retrieves an identity by id. Returns nil if not found.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = $1", id)
	identity, err := scanIdentityRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// GetMany retrieves the identities with the given ids in enrollment order.
func (r *IdentityRepository) GetMany(ctx context.Context, ids []string) ([]database.StoredIdentity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id = ANY($1) ORDER BY seq", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query identities by id: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// List returns all identities in enrollment order.
func (r *IdentityRepository) List(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// Count returns the total number of identities stored.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// FindNearest returns up to limit identities closest to embedding by L2 distance.
// Only identities with the same dimension are considered.
func (r *IdentityRepository) FindNearest(
	ctx context.Context, embedding []float32, limit int,
) ([]database.StoredIdentity, []float64, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	query := `
		SELECT ` + identityColumns + `, embedding <-> $1 AS distance
		FROM identities
		WHERE dim = $2
		ORDER BY embedding <-> $1, seq
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, vec, len(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	var identities []database.StoredIdentity
	var distances []float64
	for rows.Next() {
		var dist float64
		identity, err := scanIdentityRow(rows, &dist)
		if err != nil {
			return nil, nil, err
		}
		identities = append(identities, identity)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate nearest identities: %w", err)
	}
	return identities, distances, nil
}

// Save stores a new identity. Returns database.ErrIdentityExists if the id is taken.
func (r *IdentityRepository) Save(ctx context.Context, identity database.StoredIdentity) error {
	if identity.ID == "" {
		return errors.New("identity id is required")
	}
	if len(identity.Embedding) == 0 {
		return errors.New("identity embedding is required")
	}

	vec := pgvector.NewVector(identity.Embedding)
	query := `
		INSERT INTO identities (id, name, embedding, dim, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (id) DO NOTHING
	`
	var createdAt sql.NullTime
	if !identity.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: identity.CreatedAt, Valid: true}
	}

	result, err := r.pool.Exec(ctx, query, identity.ID, identity.Name, vec, len(identity.Embedding), createdAt)
	if err != nil {
		return fmt.Errorf("insert identity %s: %w", identity.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert identity %s: %w", identity.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", database.ErrIdentityExists, identity.ID)
	}
	return nil
}

// Delete removes an identity. Returns false if it did not exist.
func (r *IdentityRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete identity %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete identity %s: %w", id, err)
	}
	return affected > 0, nil
}

func scanIdentities(rows *sql.Rows) ([]database.StoredIdentity, error) {
	var identities []database.StoredIdentity
	for rows.Next() {
		identity, err := scanIdentityRow(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// scanIdentityRow scans a single row into a StoredIdentity, with optional extra
// scan destinations appended after the identity columns.
func scanIdentityRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredIdentity, error) {
	var identity database.StoredIdentity
	var vec pgvector.Vector

	dest := make([]any, 0, 5+len(extraDest))
	dest = append(dest, &identity.ID, &identity.Name, &vec, &identity.Dim, &identity.CreatedAt)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity, err
		}
		return identity, fmt.Errorf("scan identity: %w", err)
	}

	identity.Embedding = vec.Slice()
	return identity, nil
}

var _ database.IdentityWriter = (*IdentityRepository)(nil)
