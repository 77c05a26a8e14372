// Package evm monitors EVM-compatible chains (Ethereum, Luniverse) for
// deposits to bridge-held accounts, covering both native coin transfers
// and ERC-20 token transfers.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/config"
)

// Backend is the subset of the ethclient API the source needs.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client wraps an ethclient connection to one EVM chain.
type Client struct {
	Backend
	config *config.EVMConfig
	logger *zap.Logger
}

// NewClient dials the chain's RPC endpoint and verifies the chain id.
func NewClient(ctx context.Context, cfg *config.EVMConfig, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: expected %d, node reports %s", cfg.ChainID, chainID)
	}

	logger.Info("Connected to EVM chain",
		zap.String("rpc", cfg.RPCURL),
		zap.Int64("chain_id", chainID.Int64()))

	return &Client{Backend: eth, config: cfg, logger: logger}, nil
}
