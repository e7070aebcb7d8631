package model

import (
	"time"

	"github.com/google/uuid"
)

// OwnerProfile is a vendor's payment profile. The indexer only reads it: the
// API layer creates profiles at signup, and the reconciler resolves them to
// reach the vendor's Ghost instance on subscription removal.
type OwnerProfile struct {
	ID            uuid.UUID `db:"id"`
	Address       string    `db:"address"`
	GhostAPIURL   string    `db:"ghost_api_url"`
	GhostAdminKey string    `db:"ghost_admin_key"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
