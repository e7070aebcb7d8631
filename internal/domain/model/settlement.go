package model

import "time"

// Settlement records one settlement attempt for a subscription. The natural
// key is (SubscriptionID, TxHash): redelivered events refresh the existing
// row rather than creating a second one. Value and Error follow the latest
// on-chain outcome; the address and block fields are fixed at first sight.
type Settlement struct {
	SubscriptionID    string    `db:"subscription_id"`
	TxHash            string    `db:"tx_hash"`
	BlockHeight       int64     `db:"block_height"`
	OwnerAddress      string    `db:"owner_address"`
	SubscriberAddress string    `db:"subscriber_address"`
	TokenAddress      string    `db:"token_address"`
	Value             string    `db:"value"`
	Error             bool      `db:"error"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}
