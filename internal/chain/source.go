package chain

import (
	"context"

	"github.com/ghostethereum/ghostethereum/internal/domain/event"
)

// EventSource abstracts the contract event log so the pipeline core stays
// transport-agnostic. Delivery contract: at-least-once, per delivery attempt,
// with no ordering guarantee across reconnects. Transport or decode failures
// are logged and the affected delivery dropped; the source never retries a
// single log.
type EventSource interface {
	// Subscribe streams every contract event from fromBlock onward into
	// deliver, blocking until ctx is done or the transport fails.
	Subscribe(ctx context.Context, fromBlock int64, deliver func(event.ChainEvent)) error
}

// TokenCaller exposes the ERC-20 view calls the token registry needs.
type TokenCaller interface {
	Symbol(ctx context.Context, tokenAddress string) (string, error)
	Decimals(ctx context.Context, tokenAddress string) (uint8, error)
}
