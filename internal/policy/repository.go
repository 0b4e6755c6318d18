package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads policy settings from the policy_settings table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new policy settings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get reads the value for one exact (key, scopeType, scopeID) row.
func (r *Repository) Get(ctx context.Context, key string, scopeType ScopeType, scopeID string) (string, bool, error) {
	query := `SELECT value FROM policy_settings WHERE key = $1 AND scope_type = $2 AND scope_id = $3`

	var value string
	err := r.pool.QueryRow(ctx, query, key, string(scopeType), scopeID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read policy setting %s: %w", key, err)
	}

	return value, true, nil
}

var _ Store = (*Repository)(nil)
