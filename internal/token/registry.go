package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ghostethereum/ghostethereum/internal/chain"
	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

// ErrUnknownToken is returned for lookups outside the configured token set.
// Callers get the miss, never a default.
var ErrUnknownToken = errors.New("unknown token symbol or address")

// Registry resolves the configured payment tokens to symbol/decimals
// metadata. Loaded once at startup and read-only afterwards, so lookups need
// no locking.
type Registry struct {
	byKey map[string]model.TokenInfo // keyed by lowercased address and by symbol
}

// Load queries symbol() and decimals() for every configured token address.
// The set is small and trusted: any single failure aborts startup.
func Load(ctx context.Context, caller chain.TokenCaller, addresses []string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{byKey: make(map[string]model.TokenInfo, len(addresses)*2)}

	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("load token registry: invalid address %q", addr)
		}
		normalized := strings.ToLower(common.HexToAddress(addr).Hex())

		symbol, err := caller.Symbol(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("load token registry: %w", err)
		}
		decimals, err := caller.Decimals(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("load token registry: %w", err)
		}

		info := model.TokenInfo{Address: normalized, Symbol: symbol, Decimals: decimals}
		r.byKey[normalized] = info
		r.byKey[symbol] = info
		logger.Info("token registered", "address", normalized, "symbol", symbol, "decimals", decimals)
	}

	return r, nil
}

// Get resolves a token by symbol or hex address.
func (r *Registry) Get(symbolOrAddress string) (model.TokenInfo, error) {
	if info, ok := r.byKey[symbolOrAddress]; ok {
		return info, nil
	}
	if common.IsHexAddress(symbolOrAddress) {
		if info, ok := r.byKey[strings.ToLower(common.HexToAddress(symbolOrAddress).Hex())]; ok {
			return info, nil
		}
	}
	return model.TokenInfo{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbolOrAddress)
}
