package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/retry"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// Config holds client configuration
type Config struct {
	// Endpoints are JSON-RPC URLs in order of initial preference
	Endpoints []string
	// Timeout bounds a single call against one endpoint
	Timeout time.Duration
	// Contract is the token whose logs GetLogs returns
	Contract common.Address
	// Topic is the event signature topic GetLogs filters on
	Topic common.Hash
	// RequestsPerSecond paces outgoing calls; zero disables pacing
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Policy
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

type endpoint struct {
	name string
	rpc  *rpc.Client
	eth  *ethclient.Client
}

// Client is a log source over one or more Ethereum JSON-RPC endpoints.
// Calls go to the preferred endpoint and fall through to the others in
// order; whichever endpoint answers becomes the preferred one.
type Client struct {
	endpoints []*endpoint
	preferred atomic.Int32
	contract  common.Address
	topic     common.Hash
	timeout   time.Duration
	limiter   *rate.Limiter
	retry     retry.Policy
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewClient dials every endpoint and verifies that at least one answers
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	if cfg.Topic == (common.Hash{}) {
		return nil, fmt.Errorf("event topic cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}

	c := &Client{
		contract: cfg.Contract,
		topic:    cfg.Topic,
		timeout:  cfg.Timeout,
		retry:    cfg.Retry,
		logger:   logger,
		metrics:  m,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	for _, raw := range cfg.Endpoints {
		rpcClient, err := rpc.DialContext(ctx, raw)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", endpointName(raw), err)
		}
		c.endpoints = append(c.endpoints, &endpoint{
			name: endpointName(raw),
			rpc:  rpcClient,
			eth:  ethclient.NewClient(rpcClient),
		})
	}

	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoints: %w", err)
	}

	logger.Info("Connected to Ethereum RPC",
		zap.Int("endpoints", len(c.endpoints)),
		zap.String("preferred", c.endpoints[0].name))

	return c, nil
}

// endpointName strips credentials and API keys from an endpoint URL for logging
func endpointName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "endpoint"
	}
	return u.Host
}

// Ping verifies that one of the endpoints answers
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "eth_chainId", func(ctx context.Context, ep *endpoint) error {
		_, err := ep.eth.ChainID(ctx)
		return err
	})
}

// ChainID returns the chain id reported by the preferred endpoint
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.do(ctx, "eth_chainId", func(ctx context.Context, ep *endpoint) error {
		var err error
		id, err = ep.eth.ChainID(ctx)
		return err
	})
	return id, err
}

// Close closes all endpoint connections
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		ep.rpc.Close()
	}
}

// GetLogs returns the token's event logs in r. Throttling is returned at once
// as types.ErrRateLimited instead of being retried, so the caller can shrink
// its range before trying again.
func (c *Client) GetLogs(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.topic}},
	}

	policy := c.policy("eth_getLogs")
	policy.Classify = func(err error) retry.Class {
		if errors.Is(err, types.ErrRateLimited) {
			return retry.Fatal
		}
		return retry.Retryable
	}

	return retry.DoValue(ctx, policy, func(ctx context.Context) ([]ethtypes.Log, error) {
		var logs []ethtypes.Log
		err := c.do(ctx, "eth_getLogs", func(ctx context.Context, ep *endpoint) error {
			var err error
			logs, err = ep.eth.FilterLogs(ctx, query)
			return err
		})
		return logs, err
	})
}

// GetLatestBlockNumber returns the chain head
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	return retry.DoValue(ctx, c.policy("eth_blockNumber"), func(ctx context.Context) (uint64, error) {
		var head uint64
		err := c.do(ctx, "eth_blockNumber", func(ctx context.Context, ep *endpoint) error {
			var err error
			head, err = ep.eth.BlockNumber(ctx)
			return err
		})
		return head, err
	})
}

// GetTransactionReceipt returns the gas fields of a mined transaction
func (c *Client) GetTransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	if len(common.FromHex(hash)) != common.HashLength {
		return nil, fmt.Errorf("invalid transaction hash %q", hash)
	}
	txHash := common.HexToHash(hash)

	receipt, err := retry.DoValue(ctx, c.policy("eth_getTransactionReceipt"), func(ctx context.Context) (*ethtypes.Receipt, error) {
		var receipt *ethtypes.Receipt
		err := c.do(ctx, "eth_getTransactionReceipt", func(ctx context.Context, ep *endpoint) error {
			var err error
			receipt, err = ep.eth.TransactionReceipt(ctx, txHash)
			return err
		})
		return receipt, err
	})
	if err != nil {
		return nil, err
	}
	if receipt.BlockNumber == nil {
		return nil, fmt.Errorf("receipt for %s has no block number", hash)
	}
	if receipt.EffectiveGasPrice == nil {
		return nil, fmt.Errorf("receipt for %s has no effective gas price", hash)
	}

	return &types.Receipt{
		TxHash:            hash,
		BlockNumber:       receipt.BlockNumber.Uint64(),
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: new(big.Int).Set(receipt.EffectiveGasPrice),
	}, nil
}

// GetBlockTimestamp returns the UTC timestamp of a block
func (c *Client) GetBlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	header, err := retry.DoValue(ctx, c.policy("eth_getBlockByNumber"), func(ctx context.Context) (*ethtypes.Header, error) {
		var header *ethtypes.Header
		err := c.do(ctx, "eth_getBlockByNumber", func(ctx context.Context, ep *endpoint) error {
			var err error
			header, err = ep.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
			return err
		})
		return header, err
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *Client) policy(method string) retry.Policy {
	p := c.retry
	p.Classify = func(err error) retry.Class {
		if errors.Is(err, ethereum.NotFound) {
			return retry.Fatal
		}
		return retry.Retryable
	}
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("Retrying RPC call",
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return p
}

// do runs fn against the endpoints starting at the preferred one
func (c *Client) do(ctx context.Context, method string, fn func(context.Context, *endpoint) error) error {
	start := int(c.preferred.Load())
	var lastErr, throttled error

	for i := 0; i < len(c.endpoints); i++ {
		idx := (start + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		began := time.Now()
		err := fn(callCtx, ep)
		cancel()
		c.observe(method, began, err)

		if err == nil {
			if idx != start && c.preferred.CompareAndSwap(int32(start), int32(idx)) {
				c.logger.Info("Switched preferred RPC endpoint",
					zap.String("endpoint", ep.name),
					zap.String("method", method))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("%s: %w", method, err)
		}

		lastErr = classify(method, err)
		if throttled == nil && errors.Is(lastErr, types.ErrRateLimited) {
			throttled = lastErr
		}
		c.logger.Debug("RPC call failed",
			zap.String("endpoint", ep.name),
			zap.String("method", method),
			zap.Error(err))
	}

	// throttling anywhere in the sweep wins so callers can back off
	if throttled != nil {
		return throttled
	}
	return lastErr
}

func (c *Client) observe(method string, began time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsRateLimit(err):
		outcome = "rate_limited"
	default:
		outcome = "error"
	}
	c.metrics.RPCRequests.WithLabelValues(method, outcome).Inc()
	c.metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(began).Seconds())
}
