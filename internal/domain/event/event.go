package event

import "math/big"

// Kind identifies which contract event a ChainEvent carries.
type Kind string

const (
	KindSubscriptionAdded   Kind = "SubscriptionAdded"
	KindSubscriptionRemoved Kind = "SubscriptionRemoved"
	KindSettlementSuccess   Kind = "SettlementSuccess"
	KindSettlementFailure   Kind = "SettlementFailure"
)

// ChainEvent is the raw delivery unit handed from the event source to the
// ingest queue. Immutable once decoded. Delivery is at-least-once: the same
// (Kind, TxHash) may arrive more than once and consumers must tolerate it.
type ChainEvent struct {
	Kind        Kind
	BlockHeight int64
	TxHash      string
	LogicalID   string // subscription id derived on-chain from owner+subscriber+token
	Payload     Payload
}

// Payload is the closed union of per-kind event payloads. Exactly one
// concrete type exists per Kind; the reconciler dispatches on it.
type Payload interface {
	payload()
}

// SubscriptionAdded carries the terms of a new or re-added subscription.
type SubscriptionAdded struct {
	OwnerAddress      string
	SubscriberAddress string
	TokenAddress      string
	Value             *big.Int
	IntervalSeconds   int64
}

// SubscriptionRemoved signals an on-chain cancellation. OwnerUUID is the
// vendor profile id the contract was given at signup, as raw bytes32 hex.
type SubscriptionRemoved struct {
	OwnerAddress      string
	SubscriberAddress string
	TokenAddress      string
	OwnerUUID         string
}

// Settlement carries the outcome of one settlement attempt; Failed
// distinguishes SettlementFailure from SettlementSuccess.
type Settlement struct {
	OwnerAddress      string
	SubscriberAddress string
	TokenAddress      string
	Value             *big.Int
	Failed            bool
}

func (SubscriptionAdded) payload()   {}
func (SubscriptionRemoved) payload() {}
func (Settlement) payload()          {}
