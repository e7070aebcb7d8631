package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

type SettlementRepo struct {
	db *DB
}

func NewSettlementRepo(db *DB) *SettlementRepo {
	return &SettlementRepo{db: db}
}

func (r *SettlementRepo) Find(ctx context.Context, subscriptionID, txHash string) (*model.Settlement, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var s model.Settlement
	err := r.db.QueryRowContext(ctx, `
		SELECT subscription_id, tx_hash, block_height, owner_address, subscriber_address,
		       token_address, value::text, error, created_at, updated_at
		FROM settlements
		WHERE subscription_id = $1 AND tx_hash = $2
	`, subscriptionID, txHash).Scan(
		&s.SubscriptionID, &s.TxHash, &s.BlockHeight, &s.OwnerAddress, &s.SubscriberAddress,
		&s.TokenAddress, &s.Value, &s.Error, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find settlement: %w", err)
	}
	return &s, nil
}

// Upsert records a settlement outcome. On conflict only value and error are
// refreshed: the block height, addresses and token are established at first
// sight and must not drift when the same transaction is redelivered.
func (r *SettlementRepo) Upsert(ctx context.Context, s *model.Settlement) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settlements (subscription_id, tx_hash, block_height, owner_address,
		                         subscriber_address, token_address, value, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		ON CONFLICT (subscription_id, tx_hash) DO UPDATE SET
			value = EXCLUDED.value,
			error = EXCLUDED.error,
			updated_at = now()
	`, s.SubscriptionID, s.TxHash, s.BlockHeight, s.OwnerAddress,
		s.SubscriberAddress, s.TokenAddress, s.Value, s.Error)
	if err != nil {
		return fmt.Errorf("upsert settlement: %w", err)
	}
	return nil
}
