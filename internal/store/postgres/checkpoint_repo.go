package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type CheckpointRepo struct {
	db *DB
}

func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

func (r *CheckpointRepo) Get(ctx context.Context, contractAddress string) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var height int64
	err := r.db.QueryRowContext(ctx, `
		SELECT block_height FROM checkpoints WHERE contract_address = $1
	`, contractAddress).Scan(&height)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
	return height, nil
}

// Advance moves the checkpoint forward. GREATEST makes redelivered or
// out-of-order batches harmless: the checkpoint never regresses.
func (r *CheckpointRepo) Advance(ctx context.Context, contractAddress string, blockHeight int64) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (contract_address, block_height)
		VALUES ($1, $2)
		ON CONFLICT (contract_address) DO UPDATE SET
			block_height = GREATEST(checkpoints.block_height, EXCLUDED.block_height),
			updated_at = now()
	`, contractAddress, blockHeight)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
