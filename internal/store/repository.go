package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

// SubscriptionRepository provides access to derived subscription records.
// All operations are single-row atomic; the reconciler relies on upsert
// idempotence rather than multi-row transactions.
type SubscriptionRepository interface {
	// Find returns nil, nil when no subscription exists for id.
	Find(ctx context.Context, id string) (*model.Subscription, error)
	// Upsert creates or refreshes the row keyed by logical id. A re-add
	// clears a prior cancellation.
	Upsert(ctx context.Context, s *model.Subscription) error
	// MarkCancelled flips the cancelled flag and advances the block
	// cursor for the cancelling transaction. Cancellation is monotonic.
	MarkCancelled(ctx context.Context, id string, blockHeight int64, txHash string) error
}

// SettlementRepository provides access to settlement records keyed by
// (subscription id, tx hash).
type SettlementRepository interface {
	Find(ctx context.Context, subscriptionID, txHash string) (*model.Settlement, error)
	// Upsert refreshes only value and error on an existing row; the
	// identity and context fields keep their first-seen values.
	Upsert(ctx context.Context, s *model.Settlement) error
}

// OwnerProfileRepository reads vendor payment profiles written by the API
// layer.
type OwnerProfileRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.OwnerProfile, error)
}

// CheckpointRepository tracks the highest reconciled block per contract.
type CheckpointRepository interface {
	// Get returns 0 when no checkpoint exists yet.
	Get(ctx context.Context, contractAddress string) (int64, error)
	// Advance moves the checkpoint forward; lower heights are ignored.
	Advance(ctx context.Context, contractAddress string, blockHeight int64) error
}
