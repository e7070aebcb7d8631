package ethereum

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ghostethereum/ghostethereum/internal/chain/ratelimit"
)

const (
	defaultRPCRatePerSecond = 20
	defaultRPCBurst         = 10
)

// Client is a rate-limited connection to an Ethereum node. The event source
// and the token caller share one connection; the websocket transport carries
// both the log subscription and eth_call traffic.
type Client struct {
	eth     *ethclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

type ClientOption func(*Client)

// WithRateLimit overrides the default request rate toward the node.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = ratelimit.NewLimiter(perSecond, burst)
		}
	}
}

func Dial(ctx context.Context, wsURL string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	c := &Client{
		eth:     eth,
		limiter: ratelimit.NewLimiter(defaultRPCRatePerSecond, defaultRPCBurst),
		logger:  logger.With("component", "ethclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}
