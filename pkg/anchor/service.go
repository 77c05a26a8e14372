package anchor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

// ErrAmountNotPositive rejects zero or negative task amounts.
var ErrAmountNotPositive = errors.New("amount must be positive")

// TaskStore is the persistence surface of the task intake service.
type TaskStore interface {
	InsertAnchorTask(ctx context.Context, task *db.TaskAnchor) error
	InsertSwapTask(ctx context.Context, task *db.TaskSwap) error
}

// CreateAnchorRequest registers an expected custody deposit.
type CreateAnchorRequest struct {
	AssetCode   string
	Amount      decimal.Decimal
	PrivateAddr string
	TradeAddr   string
}

// CreateSwapRefundRequest opens a refund task for a swap whose source
// leg has to be returned through the de-anchor path.
type CreateSwapRefundRequest struct {
	SourceAssetCode   string
	TargetAssetCode   string
	SourceAmount      decimal.Decimal
	SwapperAddr       string
	PrivateSourceAddr string
}

// Service registers anchor deposit tasks and swap refund tasks. Anchor
// tasks wait for the deposit matchers; swap refund tasks enter the
// worker state machine at the queued status.
type Service struct {
	store  TaskStore
	tokens *tokenmeta.Registry
	codec  *taskid.Codec
	logger *zap.Logger
}

func NewService(store TaskStore, tokens *tokenmeta.Registry, codec *taskid.Codec, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		codec:  codec,
		logger: logger.Named("anchor_service"),
	}
}

// CreateAnchorTask records where a deposit is expected from and which
// trade account receives the issued asset. The task platform and aux
// mirror how the deposit detectors key their lookup: ERC-20 assets by
// contract address, primary-ledger tokens by issuer.
func (s *Service) CreateAnchorTask(ctx context.Context, userID int64, req CreateAnchorRequest) (*db.TaskAnchor, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	info, err := s.tokens.Get(req.AssetCode)
	if err != nil {
		return nil, err
	}

	platform := info.Platform
	var aux *string
	switch {
	case info.ContractAddress != "":
		platform = db.PlatformErc20
		contract := info.ContractAddress
		aux = &contract
	case platform == db.PlatformStellarToken:
		issuer := info.IssuerAddress
		aux = &issuer
	}

	task := &db.TaskAnchor{
		TaskID:      s.codec.Generate(taskid.TypeAnchor).ID,
		UserID:      userID,
		Platform:    platform,
		PlatformAux: aux,
		AssetCode:   info.AssetCode,
		Amount:      req.Amount,
		PrivateAddr: req.PrivateAddr,
		HolderAddr:  info.HolderAddress,
		TradeAddr:   req.TradeAddr,
	}
	if err := s.store.InsertAnchorTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to register anchor task: %w", err)
	}
	s.logger.Info("registered anchor task",
		zap.String("task_id", task.TaskID),
		zap.Int64("user_id", userID),
		zap.String("asset", info.AssetCode),
		zap.String("amount", req.Amount.String()))
	return task, nil
}

// CreateSwapRefundTask opens a queued refund for the swap's source leg.
func (s *Service) CreateSwapRefundTask(ctx context.Context, userID int64, req CreateSwapRefundRequest) (*db.TaskSwap, error) {
	if !req.SourceAmount.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	info, err := s.tokens.Get(req.SourceAssetCode)
	if err != nil {
		return nil, err
	}
	raw, err := stellar.DecimalToRaw(req.SourceAmount)
	if err != nil {
		return nil, err
	}

	task := &db.TaskSwap{
		TaskID:            s.codec.Generate(taskid.TypeSwap).ID,
		UserID:            userID,
		Status:            db.SwapStatusRefundQueued,
		SourceAssetCode:   info.AssetCode,
		TargetAssetCode:   req.TargetAssetCode,
		SourceAmountRaw:   raw,
		SwapperAddr:       req.SwapperAddr,
		PrivateSourceAddr: req.PrivateSourceAddr,
		RefundFlag:        true,
	}
	if err := s.store.InsertSwapTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to register swap refund task: %w", err)
	}
	s.logger.Info("registered swap refund task",
		zap.String("task_id", task.TaskID),
		zap.Int64("user_id", userID),
		zap.String("source_asset", info.AssetCode),
		zap.String("amount", req.SourceAmount.String()))
	return task, nil
}
