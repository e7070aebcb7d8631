package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

type SubscriptionRepo struct {
	db *DB
}

func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

func (r *SubscriptionRepo) Find(ctx context.Context, id string) (*model.Subscription, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var s model.Subscription
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_address, subscriber_address, token_address, value::text,
		       interval_seconds, cancelled, block_height, tx_hash, ghost_id,
		       created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.OwnerAddress, &s.SubscriberAddress, &s.TokenAddress, &s.Value,
		&s.IntervalSeconds, &s.Cancelled, &s.BlockHeight, &s.TxHash, &s.GhostID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &s, nil
}

// Upsert creates the subscription or applies a plan change. A later
// SubscriptionAdded for the same id wins on value/interval/block cursor and
// clears any prior cancellation (the on-chain renew-after-cancel path).
// ghost_id is owned by the API layer and never touched here.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s *model.Subscription) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, owner_address, subscriber_address, token_address,
		                           value, interval_seconds, cancelled, block_height, tx_hash)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, FALSE, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			value = EXCLUDED.value,
			interval_seconds = EXCLUDED.interval_seconds,
			block_height = EXCLUDED.block_height,
			tx_hash = EXCLUDED.tx_hash,
			cancelled = FALSE,
			updated_at = now()
	`, s.ID, s.OwnerAddress, s.SubscriberAddress, s.TokenAddress,
		s.Value, s.IntervalSeconds, s.BlockHeight, s.TxHash)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) MarkCancelled(ctx context.Context, id string, blockHeight int64, txHash string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			cancelled = TRUE,
			block_height = $2,
			tx_hash = $3,
			updated_at = now()
		WHERE id = $1
	`, id, blockHeight, txHash)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cancel subscription: %s not found", id)
	}
	return nil
}
