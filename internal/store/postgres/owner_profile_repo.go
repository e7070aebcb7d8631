package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

type OwnerProfileRepo struct {
	db *DB
}

func NewOwnerProfileRepo(db *DB) *OwnerProfileRepo {
	return &OwnerProfileRepo{db: db}
}

func (r *OwnerProfileRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.OwnerProfile, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var p model.OwnerProfile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, address, ghost_api_url, ghost_admin_key, created_at, updated_at
		FROM owner_profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Address, &p.GhostAPIURL, &p.GhostAdminKey, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find owner profile: %w", err)
	}
	return &p, nil
}
