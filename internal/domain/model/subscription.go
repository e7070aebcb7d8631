package model

import "time"

// Subscription is a recurring payment agreement derived from on-chain events.
// Identity is the logical id emitted at creation (derived from
// owner+subscriber+token), so later SubscriptionAdded events for the same id
// are plan changes, not new subscriptions. Rows are never deleted; removal
// flips Cancelled.
type Subscription struct {
	ID                string    `db:"id"`
	OwnerAddress      string    `db:"owner_address"`
	SubscriberAddress string    `db:"subscriber_address"`
	TokenAddress      string    `db:"token_address"`
	Value             string    `db:"value"` // raw token units, no decimal scaling
	IntervalSeconds   int64     `db:"interval_seconds"`
	Cancelled         bool      `db:"cancelled"`
	BlockHeight       int64     `db:"block_height"`
	TxHash            string    `db:"tx_hash"`
	GhostID           *string   `db:"ghost_id"` // external membership id, bound at signup
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}
