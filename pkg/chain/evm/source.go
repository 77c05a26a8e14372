package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// rangeEndIndex marks a cursor that covers a whole block range with no
// deposit remaining in its last block.
const rangeEndIndex uint = 1<<32 - 1

// Deposit is one observed value movement to a watched address: either a
// native coin transfer or an ERC-20 Transfer log.
type Deposit struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	From        string
	To          string
	// Contract is nil for native transfers.
	Contract   *string
	Value      *big.Int
	Decimals   int
	Time       time.Time
	Successful bool
}

// Source walks confirmed blocks of one EVM chain and emits deposits to
// the bridge holder address and to watched token contracts.
type Source struct {
	client   *Client
	platform db.Platform
	holder   common.Address
	meta     *tokenmeta.Registry
	tokens   []common.Address
	confirms int64
	batch    int64
	logger   *zap.Logger
}

// NewSource creates an EVM monitor source. Watched token contracts and
// their decimals come from the managed-asset registry.
func NewSource(client *Client, platform db.Platform, holderAddr string, meta *tokenmeta.Registry, confirmations, blockBatch int64, logger *zap.Logger) *Source {
	var tokens []common.Address
	for _, info := range meta.OnPlatform(platform) {
		if info.ContractAddress != "" {
			tokens = append(tokens, common.HexToAddress(info.ContractAddress))
		}
	}
	return &Source{
		client:   client,
		platform: platform,
		holder:   common.HexToAddress(holderAddr),
		meta:     meta,
		tokens:   tokens,
		confirms: confirmations,
		batch:    blockBatch,
		logger:   logger.Named(string(platform) + "_source"),
	}
}

func (s *Source) Platform() db.Platform {
	return s.platform
}

// The cursor is "block-logIndex" of the last handled deposit.
func cursorOf(blockNumber uint64, logIndex uint) string {
	return fmt.Sprintf("%d-%d", blockNumber, logIndex)
}

func parseCursor(cursor string) (block uint64, logIndex uint, err error) {
	if cursor == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(cursor, "-", 2)
	block, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad cursor %q: %w", cursor, err)
	}
	if len(parts) == 2 {
		idx, perr := strconv.ParseUint(parts[1], 10, 32)
		if perr != nil {
			return 0, 0, fmt.Errorf("bad cursor %q: %w", cursor, perr)
		}
		logIndex = uint(idx)
	}
	return block, logIndex, nil
}

// SeedCursor points at the newest confirmed block so a fresh monitor
// skips history.
func (s *Source) SeedCursor(ctx context.Context) (string, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return "", err
	}
	safe := int64(head) - s.confirms
	if safe < 0 {
		safe = 0
	}
	return cursorOf(uint64(safe), rangeEndIndex), nil
}

func (s *Source) NextPage(ctx context.Context, cursor string, limit int) ([]monitor.TxItem[types.Header, Deposit], error) {
	lastBlock, lastIdx, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query head: %w", err)
	}
	safe := int64(head) - s.confirms
	if safe < 0 || uint64(safe) <= lastBlock && lastIdx == rangeEndIndex {
		return nil, nil
	}

	from := lastBlock
	if lastIdx == rangeEndIndex {
		from++
	}
	to := from + uint64(s.batch) - 1
	if to > uint64(safe) {
		to = uint64(safe)
	}
	if to < from {
		return nil, nil
	}

	deposits, err := s.collect(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var items []monitor.TxItem[types.Header, Deposit]
	for _, d := range deposits {
		// Skip deposits at or before the cursor inside the resume block.
		if d.BlockNumber == lastBlock && d.LogIndex <= lastIdx {
			continue
		}
		items = append(items, monitor.TxItem[types.Header, Deposit]{Tx: d})
		if len(items) == limit {
			break
		}
	}

	// An exhausted empty range still advances the cursor; emit a
	// sentinel so the monitor does not refetch the same blocks. Block
	// ranges with no deposits are common.
	if len(items) == 0 {
		items = append(items, monitor.TxItem[types.Header, Deposit]{Tx: Deposit{
			BlockNumber: to,
			LogIndex:    rangeEndIndex,
			Successful:  true,
			Value:       big.NewInt(0),
		}})
	}
	return items, nil
}

// collect gathers native and token deposits in [from, to], ordered by
// block then log index.
func (s *Source) collect(ctx context.Context, from, to uint64) ([]Deposit, error) {
	var deposits []Deposit

	for n := from; n <= to; n++ {
		block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", n, err)
		}
		blockTime := time.Unix(int64(block.Time()), 0).UTC()
		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != s.holder || tx.Value().Sign() == 0 {
				continue
			}
			sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
			if err != nil {
				s.logger.Warn("Failed to recover sender", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
				continue
			}
			deposits = append(deposits, Deposit{
				BlockNumber: n,
				TxHash:      tx.Hash().Hex(),
				From:        sender.Hex(),
				To:          s.holder.Hex(),
				Value:       new(big.Int).Set(tx.Value()),
				Decimals:    18,
				Time:        blockTime,
				Successful:  true,
			})
		}
	}

	if len(s.tokens) > 0 {
		logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: s.tokens,
			Topics:    [][]common.Hash{{transferTopic}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to filter transfer logs: %w", err)
		}
		for _, lg := range logs {
			if len(lg.Topics) != 3 {
				continue
			}
			toAddr := common.BytesToAddress(lg.Topics[2].Bytes())
			if toAddr != s.holder {
				continue
			}
			contract := lg.Address.Hex()
			decimals := 18
			if info, err := s.meta.ByContract(s.platform, contract); err == nil {
				decimals = int(info.Decimals)
			} else {
				s.logger.Warn("No managed asset for watched contract, assuming 18 decimals",
					zap.String("contract", contract))
			}
			deposits = append(deposits, Deposit{
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash.Hex(),
				LogIndex:    lg.Index,
				From:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
				To:          toAddr.Hex(),
				Contract:    &contract,
				Value:       new(big.Int).SetBytes(lg.Data),
				Decimals:    decimals,
				Successful:  true,
			})
		}
	}

	// Order by block then log index so the cursor is monotonic.
	for i := 1; i < len(deposits); i++ {
		for j := i; j > 0; j-- {
			a, b := deposits[j-1], deposits[j]
			if a.BlockNumber < b.BlockNumber || (a.BlockNumber == b.BlockNumber && a.LogIndex <= b.LogIndex) {
				break
			}
			deposits[j-1], deposits[j] = b, a
		}
	}
	return deposits, nil
}

func (s *Source) Transaction(ctx context.Context, txID string) (*Deposit, error) {
	hash := common.HexToHash(txID)
	receipt, err := s.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return &Deposit{
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxHash:      txID,
		Successful:  receipt.Status == types.ReceiptStatusSuccessful,
		Value:       big.NewInt(0),
	}, nil
}

// Decode converts one deposit into the neutral transaction view. The
// deposit itself is the single receipt.
func (s *Source) Decode(ctx context.Context, d Deposit) (*monitor.DecodedTx[Deposit], error) {
	decoded := &monitor.DecodedTx[Deposit]{
		Hash:        d.TxHash,
		PagingToken: cursorOf(d.BlockNumber, d.LogIndex),
		Ledger:      int64(d.BlockNumber),
		Time:        d.Time,
		Successful:  d.Successful,
	}
	if d.TxHash == "" {
		// range sentinel, nothing to handle
		return decoded, nil
	}

	assetCode := "ETH"
	platform := s.platform
	if d.Contract != nil {
		assetCode = ""
		platform = db.PlatformErc20
		if info, err := s.meta.ByContract(s.platform, *d.Contract); err == nil {
			assetCode = info.AssetCode
		}
	}

	decoded.SourceAccount = d.From
	decoded.Receipts = []Deposit{d}
	decoded.OpRows = []db.OpReceipt{{
		TxHash:      d.TxHash,
		OpIndex:     int(d.LogIndex),
		Platform:    platform,
		Status:      "SUCCESS",
		From:        d.From,
		To:          d.To,
		AssetCode:   assetCode,
		AssetIssuer: d.Contract,
		AmountRaw:   scaleToRaw(d.Value, d.Decimals),
		Timestamp:   d.Time,
	}}
	return decoded, nil
}

// scaleToRaw converts a chain-native integer amount to the ledger's raw
// scale-7 representation, flooring excess precision.
func scaleToRaw(value *big.Int, decimals int) int64 {
	if value == nil {
		return 0
	}
	scaled := new(big.Int).Set(value)
	switch {
	case decimals > 7:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-7)), nil)
		scaled.Quo(scaled, div)
	case decimals < 7:
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(7-decimals)), nil)
		scaled.Mul(scaled, mul)
	}
	if !scaled.IsInt64() {
		return 0
	}
	return scaled.Int64()
}
