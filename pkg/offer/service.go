package offer

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

// Domain validation errors surfaced to API callers. None of them are
// retried and none perform an on-chain submission.
var (
	ErrOfferNotValid     = errors.New("offer is not open on the ledger")
	ErrNotOfferOwner     = errors.New("offer belongs to another user")
	ErrOfferTypeMismatch = errors.New("offer side does not match the stored task")
)

// Per-account native reserve handling, raw scale-7 units.
const (
	baseReserveRaw     = 5_000_000  // 0.5 native per ledger entry
	rebalanceBufferRaw = 10_000_000 // headroom kept above the reserve
)

// Ledger builds and submits channel transactions. *stellar.TxBuilder
// implements it.
type Ledger interface {
	Build(ctx context.Context, sourceAccount, memo string, ops []stellar.Op, extraSigners ...string) (*stellar.BuiltTx, error)
	Submit(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error)
}

// OfferBook reads open offers from the ledger. *stellar.Client
// implements it.
type OfferBook interface {
	Offer(ctx context.Context, offerID int64) (*stellar.Offer, error)
}

// AccountReader fetches ledger accounts with balances. *stellar.Client
// implements it.
type AccountReader interface {
	Account(ctx context.Context, accountID string) (*stellar.Account, error)
}

// Store is the persistence surface of the offer workflows.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	InsertCreateOfferTask(ctx context.Context, task *db.TaskCreateOffer) error
	UpdateCreateOfferTask(ctx context.Context, task *db.TaskCreateOffer) error
	GetCreateOfferTaskByOffer(ctx context.Context, tradeAddr string, offerID int64) (*db.TaskCreateOffer, error)

	InsertDeleteOfferTask(ctx context.Context, task *db.TaskDeleteOffer) error
	UpdateDeleteOfferTask(ctx context.Context, task *db.TaskDeleteOffer) error

	InsertFeeRefund(ctx context.Context, task *db.TaskFeeRefund) error
	ListUncheckedFeeRefunds(ctx context.Context, limit int) ([]db.TaskFeeRefund, error)
	CountFeeRefundAttempts(ctx context.Context, taskID string) (int, error)
	InsertFeeRefundLog(ctx context.Context, row *db.TaskFeeRefundLog) error
	MarkFeeRefundChecked(ctx context.Context, taskID string) error
}

type pgStore struct{ *db.Store }

// NewPgStore adapts the shared database store to the offer workflows.
func NewPgStore(s *db.Store) Store { return pgStore{s} }

func (s pgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx *db.Store) error {
		return fn(ctx, pgStore{tx})
	})
}

// CreateOfferRequest is a request to open an offer trading AssetCode
// against the pivot asset. Amount is denominated in AssetCode and
// Price is its pivot price.
type CreateOfferRequest struct {
	TradeAddr string
	AssetCode string
	Amount    decimal.Decimal
	Price     decimal.Decimal
}

// CreateOfferResult reports the outcome of a create-offer call.
// PostTxStatus false means the trade succeeded on-chain but the
// post-submission bookkeeping did not complete; the monitor path
// reconciles it.
type CreateOfferResult struct {
	TaskID       string
	TxHash       string
	OfferID      int64
	MadeAmount   decimal.Decimal
	PostTxStatus bool
}

// DeleteOfferRequest cancels an open offer previously created through
// the bridge.
type DeleteOfferRequest struct {
	TradeAddr string
	OfferID   int64
}

// DeleteOfferResult reports the outcome of a delete-offer call. A
// non-nil RefundAmount means the unspent share of the prepaid fee was
// returned with the cancel.
type DeleteOfferResult struct {
	TaskID          string
	TxHash          string
	RefundAssetCode string
	RefundAmount    *decimal.Decimal
}

// Service orchestrates offer workflows on the primary ledger.
type Service struct {
	store    Store
	codec    *taskid.Codec
	ledger   Ledger
	book     OfferBook
	accounts AccountReader
	tokens   *tokenmeta.Registry
	fees     *FeeCalculator

	channelAccount string
	logger         *zap.Logger
}

func NewService(store Store, codec *taskid.Codec, ledger Ledger, book OfferBook, accounts AccountReader,
	tokens *tokenmeta.Registry, fees *FeeCalculator, channelAccount string, logger *zap.Logger) *Service {
	return &Service{
		store:          store,
		codec:          codec,
		ledger:         ledger,
		book:           book,
		accounts:       accounts,
		tokens:         tokens,
		fees:           fees,
		channelAccount: channelAccount,
		logger:         logger.Named("offer"),
	}
}

// CreateOffer runs the fixed create-offer sequence: persist the task,
// price the fee, top up the trade wallet's native reserve if needed,
// build and submit the offer transaction, and parse the submission
// result. A result-parsing failure is recorded on the task but not
// returned: the trade already succeeded on-chain.
func (s *Service) CreateOffer(ctx context.Context, userID int64, isSell bool, req CreateOfferRequest) (*CreateOfferResult, error) {
	taskType := taskid.TypeOfferCreateBuy
	if isSell {
		taskType = taskid.TypeOfferCreateSell
	}
	id := s.codec.Generate(taskType)

	pivot := s.tokens.PivotCode()
	if req.AssetCode == pivot {
		return nil, fmt.Errorf("%w: cannot trade the pivot asset against itself", tokenmeta.ErrAssetNotFound)
	}
	if _, err := s.assetIssuer(req.AssetCode); err != nil {
		return nil, err
	}

	sellCode, buyCode := pivot, req.AssetCode
	if isSell {
		sellCode, buyCode = req.AssetCode, pivot
	}
	task := &db.TaskCreateOffer{
		TaskID:        id.ID,
		UserID:        userID,
		TaskType:      taskType.String(),
		TradeAddr:     req.TradeAddr,
		SellAssetCode: sellCode,
		BuyAssetCode:  buyCode,
		Amount:        req.Amount,
		Price:         req.Price,
	}
	if err := s.store.InsertCreateOfferTask(ctx, task); err != nil {
		metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "error").Inc()
		return nil, fmt.Errorf("failed to persist create-offer task: %w", err)
	}

	split, err := s.fees.ForCreate(isSell, req.Amount, req.Price)
	if err != nil {
		return nil, s.failCreate(ctx, task, "calc_fee", err)
	}
	task.SellAmount = split.SellAmount
	task.BuyAmount = split.BuyAmount
	task.FeeAssetCode = split.FeeAssetCode
	task.FeeAmount = split.FeeAmount
	task.FeeCollectorAddr = s.fees.CollectorAddr()
	if err := s.store.UpdateCreateOfferTask(ctx, task); err != nil {
		return nil, s.failCreate(ctx, task, "calc_fee", err)
	}

	if err := s.rebalanceReserve(ctx, task); err != nil {
		return nil, s.failCreate(ctx, task, "rebalance", err)
	}

	ops, err := s.createOfferOps(task, split, isSell)
	if err != nil {
		return nil, s.failCreate(ctx, task, "build_tx", err)
	}
	tx, err := s.ledger.Build(ctx, s.channelAccount, task.TaskID, ops, task.TradeAddr)
	if err != nil {
		return nil, s.failCreate(ctx, task, "build_tx", err)
	}
	task.TxSeq = tx.Seq
	task.TxHash = &tx.Hash
	task.TxEnv = &tx.Envelope
	if err := s.store.UpdateCreateOfferTask(ctx, task); err != nil {
		return nil, s.failCreate(ctx, task, "build_tx", err)
	}

	result, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, s.failCreate(ctx, task, "submit_tx", err)
	}
	if !result.Successful {
		return nil, s.failCreate(ctx, task, "submit_tx", fmt.Errorf("transaction rejected: %s", result.ResultXdr))
	}

	out := &CreateOfferResult{TaskID: task.TaskID, TxHash: tx.Hash, PostTxStatus: true}
	offerID, made, err := ParseOfferResult(result.ResultXdr)
	if err == nil {
		task.OfferID = offerID
		task.MadeAmount = made
		task.PostTxFlag = true
		err = s.store.UpdateCreateOfferTask(ctx, task)
	}
	if err != nil {
		// The offer is live on-chain; record the bookkeeping gap and
		// report success to the caller.
		s.annotateCreate(ctx, task, "parse_result", err)
		s.logger.Error("create-offer post-submission bookkeeping failed",
			zap.String("task_id", task.TaskID), zap.String("tx_hash", tx.Hash), zap.Error(err))
		metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "post_tx_error").Inc()
		out.PostTxStatus = false
		return out, nil
	}

	out.OfferID = offerID
	out.MadeAmount = made
	metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "success").Inc()
	return out, nil
}

// DeleteOffer cancels an open offer. The caller must own the stored
// create-task for the offer and the requested side must match it. For
// buy offers the unspent share of the prepaid fee rides the cancel
// transaction as a payment from the fee collector, co-signed by the
// fee-holder identity; only when that combined transaction cannot be
// built does the refund fall back to the out-of-band sweeper.
func (s *Service) DeleteOffer(ctx context.Context, userID int64, isSell bool, req DeleteOfferRequest) (*DeleteOfferResult, error) {
	created, err := s.store.GetCreateOfferTaskByOffer(ctx, req.TradeAddr, req.OfferID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return nil, ErrOfferNotValid
		}
		return nil, err
	}
	if created.UserID != userID {
		return nil, ErrNotOfferOwner
	}
	createdType := taskid.TypeOfferCreateBuy
	taskType := taskid.TypeOfferDeleteBuy
	if isSell {
		createdType = taskid.TypeOfferCreateSell
		taskType = taskid.TypeOfferDeleteSell
	}
	if created.TaskType != createdType.String() {
		return nil, ErrOfferTypeMismatch
	}

	id := s.codec.Generate(taskType)
	task := &db.TaskDeleteOffer{
		TaskID:            id.ID,
		UserID:            userID,
		TaskType:          taskType.String(),
		TradeAddr:         req.TradeAddr,
		OfferID:           req.OfferID,
		SellAssetCode:     created.SellAssetCode,
		BuyAssetCode:      created.BuyAssetCode,
		Price:             created.Price,
		CreateOfferTaskID: created.TaskID,
	}
	if err := s.store.InsertDeleteOfferTask(ctx, task); err != nil {
		metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "error").Inc()
		return nil, fmt.Errorf("failed to persist delete-offer task: %w", err)
	}

	open, err := s.book.Offer(ctx, req.OfferID)
	if err != nil {
		if errors.Is(err, stellar.ErrNotFound) {
			return nil, s.failDelete(ctx, task, "fetch_offer", ErrOfferNotValid)
		}
		return nil, s.failDelete(ctx, task, "fetch_offer", err)
	}
	if open.Seller != req.TradeAddr {
		return nil, s.failDelete(ctx, task, "fetch_offer", ErrNotOfferOwner)
	}
	remainRaw, err := stellar.ParseAmount(open.Amount)
	if err != nil {
		return nil, s.failDelete(ctx, task, "fetch_offer", err)
	}
	task.RemainAmount = stellar.RawToDecimal(remainRaw)

	var refundRaw int64
	if !isSell {
		refundRaw, err = s.buyFeeRefund(created, remainRaw)
		if err != nil {
			return nil, s.failDelete(ctx, task, "calc_refund", err)
		}
		if refundRaw > 0 {
			code := s.tokens.PivotCode()
			amount := stellar.RawToDecimal(refundRaw)
			task.RefundAssetCode = &code
			task.RefundAmount = &amount
		}
	}
	if err := s.store.UpdateDeleteOfferTask(ctx, task); err != nil {
		return nil, s.failDelete(ctx, task, "calc_refund", err)
	}

	sellIssuer, err := s.assetIssuer(task.SellAssetCode)
	if err != nil {
		return nil, s.failDelete(ctx, task, "build_tx", err)
	}
	buyIssuer, err := s.assetIssuer(task.BuyAssetCode)
	if err != nil {
		return nil, s.failDelete(ctx, task, "build_tx", err)
	}
	cancel := stellar.NewManageOffer(task.TradeAddr,
		task.SellAssetCode, sellIssuer, task.BuyAssetCode, buyIssuer,
		"0", open.Price, req.OfferID)
	ops := []stellar.Op{cancel}
	signers := []string{task.TradeAddr}
	if refundRaw > 0 {
		refundIssuer, rerr := s.assetIssuer(*task.RefundAssetCode)
		if rerr != nil {
			return nil, s.failDelete(ctx, task, "build_tx", rerr)
		}
		ops = append(ops, stellar.NewPayment(s.fees.CollectorAddr(), task.TradeAddr,
			*task.RefundAssetCode, refundIssuer, task.RefundAmount.String()))
		signers = append(signers, s.fees.CollectorAddr())
	}

	refundQueued := false
	tx, err := s.ledger.Build(ctx, s.channelAccount, task.TaskID, ops, signers...)
	if err != nil && refundRaw > 0 {
		// The combined transaction could not be signed; cancel alone and
		// leave the refund to the sweeper.
		s.logger.Warn("inline fee refund unavailable, queueing for sweep",
			zap.String("task_id", task.TaskID), zap.Error(err))
		refundQueued = true
		tx, err = s.ledger.Build(ctx, s.channelAccount, task.TaskID, []stellar.Op{cancel}, task.TradeAddr)
	}
	if err != nil {
		return nil, s.failDelete(ctx, task, "build_tx", err)
	}
	task.TxSeq = tx.Seq
	task.TxHash = &tx.Hash
	task.TxEnv = &tx.Envelope
	if err := s.store.UpdateDeleteOfferTask(ctx, task); err != nil {
		return nil, s.failDelete(ctx, task, "build_tx", err)
	}

	result, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, s.failDelete(ctx, task, "submit_tx", err)
	}
	if !result.Successful {
		return nil, s.failDelete(ctx, task, "submit_tx", fmt.Errorf("transaction rejected: %s", result.ResultXdr))
	}

	// The cancel is confirmed. When the refund could not ride it, the
	// owed amount and the final task update commit together.
	err = s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if uerr := tx.UpdateDeleteOfferTask(ctx, task); uerr != nil {
			return uerr
		}
		if !refundQueued {
			return nil
		}
		return tx.InsertFeeRefund(ctx, &db.TaskFeeRefund{
			TaskID:            s.codec.Generate(taskid.TypeOfferRefundFee).ID,
			RefundAssetCode:   *task.RefundAssetCode,
			RefundAmountRaw:   refundRaw,
			FeeCollectAccount: s.fees.CollectorAddr(),
			RefundAccount:     task.TradeAddr,
		})
	})
	if err != nil {
		// Cancel landed on-chain; report it and leave the refund to
		// out-of-band reconciliation.
		s.annotateDelete(ctx, task, "persist_refund", err)
		s.logger.Error("delete-offer refund bookkeeping failed",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}

	out := &DeleteOfferResult{TaskID: task.TaskID, TxHash: tx.Hash}
	if refundRaw > 0 {
		out.RefundAssetCode = *task.RefundAssetCode
		out.RefundAmount = task.RefundAmount
	}
	metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "success").Inc()
	return out, nil
}

// buyFeeRefund computes the refundable share of a prepaid buy fee for
// the still-open remainder of the offer.
func (s *Service) buyFeeRefund(created *db.TaskCreateOffer, remainRaw int64) (int64, error) {
	feeRaw, err := stellar.DecimalToRaw(created.FeeAmount)
	if err != nil {
		return 0, fmt.Errorf("stored fee amount is not representable: %w", err)
	}
	sellRaw, err := stellar.DecimalToRaw(created.SellAmount)
	if err != nil {
		return 0, fmt.Errorf("stored sell amount is not representable: %w", err)
	}
	return ProRataRefund(feeRaw, remainRaw, sellRaw), nil
}

// createOfferOps assembles the manage-offer operation and, for buy
// offers, the prepaid fee payment.
func (s *Service) createOfferOps(task *db.TaskCreateOffer, split FeeSplit, isSell bool) ([]stellar.Op, error) {
	sellIssuer, err := s.assetIssuer(task.SellAssetCode)
	if err != nil {
		return nil, err
	}
	buyIssuer, err := s.assetIssuer(task.BuyAssetCode)
	if err != nil {
		return nil, err
	}

	// Horizon prices are buy-per-sell; a buy offer sells the pivot, so
	// the stored pivot price inverts.
	price := task.Price
	if !isSell {
		price = decimal.NewFromInt(1).DivRound(task.Price, 7)
	}
	ops := []stellar.Op{stellar.NewManageOffer(task.TradeAddr,
		task.SellAssetCode, sellIssuer, task.BuyAssetCode, buyIssuer,
		split.SellAmount.String(), price.String(), 0)}

	if split.Prepaid && split.FeeAmount.IsPositive() {
		pivotIssuer, err := s.assetIssuer(split.FeeAssetCode)
		if err != nil {
			return nil, err
		}
		ops = append(ops, stellar.NewPayment(task.TradeAddr, s.fees.CollectorAddr(),
			split.FeeAssetCode, pivotIssuer, split.FeeAmount.String()))
	}
	return ops, nil
}

// rebalanceReserve tops up the trade wallet's native balance from the
// channel account when it sits below the ledger reserve plus headroom.
func (s *Service) rebalanceReserve(ctx context.Context, task *db.TaskCreateOffer) error {
	account, err := s.accounts.Account(ctx, task.TradeAddr)
	if err != nil {
		return fmt.Errorf("failed to fetch trade account: %w", err)
	}
	nativeRaw, err := stellar.ParseAmount(account.NativeBalance())
	if err != nil {
		return fmt.Errorf("unparseable native balance: %w", err)
	}
	required := (2+account.SubentryCount)*baseReserveRaw + rebalanceBufferRaw
	if nativeRaw >= required {
		return nil
	}

	topUp := stellar.NewPayment(s.channelAccount, task.TradeAddr,
		"XLM", "", stellar.FormatAmount(required-nativeRaw))
	tx, err := s.ledger.Build(ctx, s.channelAccount, task.TaskID, []stellar.Op{topUp})
	if err != nil {
		return fmt.Errorf("failed to build reserve top-up: %w", err)
	}
	result, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to submit reserve top-up: %w", err)
	}
	if !result.Successful {
		return fmt.Errorf("reserve top-up rejected: %s", result.ResultXdr)
	}

	task.RebalanceTxHash = &tx.Hash
	if err := s.store.UpdateCreateOfferTask(ctx, task); err != nil {
		return fmt.Errorf("failed to record reserve top-up: %w", err)
	}
	s.logger.Info("topped up trade wallet native reserve",
		zap.String("task_id", task.TaskID),
		zap.String("trade_addr", task.TradeAddr),
		zap.String("tx_hash", tx.Hash))
	return nil
}

// assetIssuer resolves the issuing account of a managed asset. The
// native asset has none.
func (s *Service) assetIssuer(code string) (string, error) {
	if code == "XLM" {
		return "", nil
	}
	info, err := s.tokens.Get(code)
	if err != nil {
		return "", fmt.Errorf("%w: %s", tokenmeta.ErrAssetNotFound, code)
	}
	return info.IssuerAddress, nil
}

func (s *Service) failCreate(ctx context.Context, task *db.TaskCreateOffer, position string, err error) error {
	s.annotateCreate(ctx, task, position, err)
	metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "error").Inc()
	return fmt.Errorf("%s: %w", position, err)
}

func (s *Service) annotateCreate(ctx context.Context, task *db.TaskCreateOffer, position string, err error) {
	code := errorCode(err)
	msg := err.Error()
	task.ErrorPosition = &position
	task.ErrorCode = &code
	task.ErrorMessage = &msg
	if uerr := s.store.UpdateCreateOfferTask(ctx, task); uerr != nil {
		s.logger.Error("failed to annotate create-offer task",
			zap.String("task_id", task.TaskID), zap.Error(uerr))
	}
}

func (s *Service) failDelete(ctx context.Context, task *db.TaskDeleteOffer, position string, err error) error {
	s.annotateDelete(ctx, task, position, err)
	metrics.OfferTasksTotal.WithLabelValues(task.TaskType, "error").Inc()
	if isDomainErr(err) {
		return err
	}
	return fmt.Errorf("%s: %w", position, err)
}

func (s *Service) annotateDelete(ctx context.Context, task *db.TaskDeleteOffer, position string, err error) {
	code := errorCode(err)
	msg := err.Error()
	task.ErrorPosition = &position
	task.ErrorCode = &code
	task.ErrorMessage = &msg
	if uerr := s.store.UpdateDeleteOfferTask(ctx, task); uerr != nil {
		s.logger.Error("failed to annotate delete-offer task",
			zap.String("task_id", task.TaskID), zap.Error(uerr))
	}
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrOfferNotValid) ||
		errors.Is(err, ErrNotOfferOwner) ||
		errors.Is(err, ErrOfferTypeMismatch) ||
		errors.Is(err, tokenmeta.ErrAssetNotFound)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrOfferNotValid):
		return "OFFER_NOT_VALID"
	case errors.Is(err, ErrNotOfferOwner):
		return "NOT_OFFER_OWNER"
	case errors.Is(err, ErrOfferTypeMismatch):
		return "OFFER_TYPE_MISMATCH"
	case errors.Is(err, tokenmeta.ErrAssetNotFound):
		return "ASSET_NOT_MANAGED"
	default:
		return "INTERNAL"
	}
}
