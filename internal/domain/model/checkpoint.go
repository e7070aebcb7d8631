package model

import "time"

// Checkpoint tracks the highest block height the indexer has reconciled for
// a contract. It only ever moves forward; on restart the event source resumes
// from max(checkpoint, configured start block).
type Checkpoint struct {
	ContractAddress string    `db:"contract_address"`
	BlockHeight     int64     `db:"block_height"`
	UpdatedAt       time.Time `db:"updated_at"`
}
