package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ghostethereum/ghostethereum/internal/chain"
	"github.com/ghostethereum/ghostethereum/internal/chain/ratelimit"
)

const erc20ABI = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// TokenCaller resolves ERC-20 metadata with ABI-packed eth_call requests.
type TokenCaller struct {
	client *Client
	abi    abi.ABI
}

var _ chain.TokenCaller = (*TokenCaller)(nil)

func NewTokenCaller(client *Client) (*TokenCaller, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 ABI: %w", err)
	}
	return &TokenCaller{client: client, abi: parsed}, nil
}

func (t *TokenCaller) Symbol(ctx context.Context, tokenAddress string) (string, error) {
	out, err := t.call(ctx, tokenAddress, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("token %s: symbol has type %T", tokenAddress, out[0])
	}
	return symbol, nil
}

func (t *TokenCaller) Decimals(ctx context.Context, tokenAddress string) (uint8, error) {
	out, err := t.call(ctx, tokenAddress, "decimals")
	if err != nil {
		return 0, err
	}
	// Some tokens declare decimals as uint256; tolerate both widths.
	switch v := out[0].(type) {
	case uint8:
		return v, nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("token %s: decimals has type %T", tokenAddress, out[0])
	}
}

func (t *TokenCaller) call(ctx context.Context, tokenAddress, method string) ([]interface{}, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddress)
	}
	data, err := t.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if err := t.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	to := common.HexToAddress(tokenAddress)
	resp, err := t.client.eth.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, nil)
	ratelimit.RecordRPCCall("eth_call", err)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, tokenAddress, err)
	}

	out, err := t.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s from %s: %w", method, tokenAddress, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty response", method, tokenAddress)
	}
	return out, nil
}
