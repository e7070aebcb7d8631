package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ghostethereum/ghostethereum/internal/chain"
	"github.com/ghostethereum/ghostethereum/internal/chain/ratelimit"
	"github.com/ghostethereum/ghostethereum/internal/domain/event"
	"github.com/ghostethereum/ghostethereum/internal/metrics"
)

// logBuffer bounds how many undelivered logs the node subscription may park
// before the transport starts applying back-pressure.
const logBuffer = 256

// Source streams the subscription contract's event log. It replays the
// historical range [fromBlock, head] with eth_getLogs, then follows the live
// log subscription. The seam between the two is inclusive on both sides, so
// a log at the boundary block can be delivered twice; downstream upserts
// absorb the duplicate.
type Source struct {
	client   *Client
	contract common.Address
	decoder  *event.Decoder
	logger   *slog.Logger
}

var _ chain.EventSource = (*Source)(nil)

func NewSource(client *Client, contractAddress string, logger *slog.Logger) (*Source, error) {
	decoder, err := event.NewDecoder()
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	return &Source{
		client:   client,
		contract: common.HexToAddress(contractAddress),
		decoder:  decoder,
		logger:   logger.With("component", "event_source"),
	}, nil
}

func (s *Source) Subscribe(ctx context.Context, fromBlock int64, deliver func(event.ChainEvent)) error {
	query := geth.FilterQuery{
		Addresses: []common.Address{s.contract},
		FromBlock: big.NewInt(fromBlock),
	}

	logs := make(chan types.Log, logBuffer)
	sub, err := s.client.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("subscribe contract logs: %w", err)
	}
	defer sub.Unsubscribe()

	if err := s.replay(ctx, fromBlock, deliver); err != nil {
		return err
	}

	s.logger.Info("following live contract logs",
		"contract", s.contract.Hex(),
		"from_block", fromBlock,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			// No internal retry: the error surfaces to the caller and any
			// in-flight log is lost until the process reconnects.
			return fmt.Errorf("log subscription: %w", err)
		case lg := <-logs:
			s.deliverLog(lg, deliver)
		}
	}
}

// replay fetches the historical window in one eth_getLogs call. The window
// is open-ended: the node fills in its current head as the upper bound.
func (s *Source) replay(ctx context.Context, fromBlock int64, deliver func(event.ChainEvent)) error {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return err
	}
	history, err := s.client.eth.FilterLogs(ctx, geth.FilterQuery{
		Addresses: []common.Address{s.contract},
		FromBlock: big.NewInt(fromBlock),
	})
	ratelimit.RecordRPCCall("eth_getLogs", err)
	if err != nil {
		return fmt.Errorf("replay contract logs from block %d: %w", fromBlock, err)
	}

	s.logger.Info("replaying historical contract logs",
		"contract", s.contract.Hex(),
		"from_block", fromBlock,
		"count", len(history),
	)
	for _, lg := range history {
		s.deliverLog(lg, deliver)
	}
	return nil
}

func (s *Source) deliverLog(lg types.Log, deliver func(event.ChainEvent)) {
	if lg.Removed {
		// Reorged-out log; the canonical replacement arrives separately.
		metrics.SourceEventsDropped.WithLabelValues("reorged").Inc()
		return
	}

	ev, err := s.decoder.Decode(lg)
	if err != nil {
		s.logger.Warn("dropping undecodable log",
			"tx_hash", lg.TxHash.Hex(),
			"block", lg.BlockNumber,
			"error", err,
		)
		metrics.SourceEventsDropped.WithLabelValues("decode").Inc()
		return
	}

	metrics.SourceEventsReceived.WithLabelValues(string(ev.Kind)).Inc()
	deliver(ev)
}
