// Package dextask holds the concrete task processors dispatched by the
// primary-ledger monitor. Processors reconcile task rows against the
// observed on-chain outcome and enqueue follow-up accounting tasks.
package dextask

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// Store is the persistence surface of the offer task processors.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	GetCreateOfferTask(ctx context.Context, taskID string) (*db.TaskCreateOffer, error)
	UpdateCreateOfferTask(ctx context.Context, task *db.TaskCreateOffer) error
	InsertOfferSellFee(ctx context.Context, task *db.TaskOfferSellFee) error
	GetSwapTaskByDeancTask(ctx context.Context, deancTaskID string) (*db.TaskSwap, error)
	UpdateSwapTask(ctx context.Context, task *db.TaskSwap) error
}

type pgStore struct{ *db.Store }

// NewPgStore adapts the shared database store to the task processors.
func NewPgStore(s *db.Store) Store { return pgStore{s} }

func (s pgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx *db.Store) error {
		return fn(ctx, pgStore{tx})
	})
}

// CreateOfferProcessor reconciles a create-offer task against its
// observed transaction and, for sell offers, converts fills against the
// pivot asset into fee-collection tasks. One instance serves one side.
type CreateOfferProcessor struct {
	taskType taskid.Type
	store    Store
	codec    *taskid.Codec
	pivot    string
	logger   *zap.Logger
}

// NewCreateSellOfferProcessor returns the processor for sell-side
// create-offer transactions.
func NewCreateSellOfferProcessor(store Store, codec *taskid.Codec, pivot string, logger *zap.Logger) *CreateOfferProcessor {
	return &CreateOfferProcessor{
		taskType: taskid.TypeOfferCreateSell,
		store:    store,
		codec:    codec,
		pivot:    pivot,
		logger:   logger.Named("create_sell_offer"),
	}
}

// NewCreateBuyOfferProcessor returns the processor for buy-side
// create-offer transactions. Buy fees are prepaid, so it only
// reconciles the task row.
func NewCreateBuyOfferProcessor(store Store, codec *taskid.Codec, logger *zap.Logger) *CreateOfferProcessor {
	return &CreateOfferProcessor{
		taskType: taskid.TypeOfferCreateBuy,
		store:    store,
		codec:    codec,
		logger:   logger.Named("create_buy_offer"),
	}
}

func (p *CreateOfferProcessor) TaskType() taskid.Type { return p.taskType }

// Process marks the task caught, repairs post-submission bookkeeping
// the API path may have missed, and enqueues sell fees for pivot fills.
func (p *CreateOfferProcessor) Process(ctx context.Context, logID int64, task taskid.TaskId, tx *monitor.DecodedTx[stellar.Operation]) monitor.ProcessResult {
	row, err := p.store.GetCreateOfferTask(ctx, task.ID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return monitor.Failure("TASK_NOT_FOUND", fmt.Sprintf("no create-offer task %s", task.ID))
		}
		return monitor.Failure("STORE_ERROR", err.Error())
	}
	if row.SignedTxCatchFlag {
		return monitor.Success()
	}
	if !tx.Successful {
		// The transaction failed on-chain; catch it so the row stops
		// looking pending, keep the flags that say no offer exists.
		row.SignedTxCatchFlag = true
		if err := p.store.UpdateCreateOfferTask(ctx, row); err != nil {
			return monitor.Failure("STORE_ERROR", err.Error())
		}
		return monitor.Success()
	}

	outcome, err := stellar.DecodeTxResult(tx.Result)
	if err != nil {
		return monitor.Failure("RESULT_PARSE_ERROR", err.Error())
	}

	fees := p.collectFees(row, tx, outcome)

	row.SignedTxCatchFlag = true
	if !row.PostTxFlag && outcome.Offer != nil {
		// The API path lost the race against its own bookkeeping;
		// repair the row from the observed result.
		row.OfferID = outcome.Offer.OfferID
		row.MadeAmount = stellar.RawToDecimal(outcome.Offer.MadeAmountRaw)
		row.PostTxFlag = true
		p.logger.Info("repaired create-offer bookkeeping from chain",
			zap.String("task_id", row.TaskID), zap.Int64("offer_id", row.OfferID))
	}

	err = p.store.InTx(ctx, func(ctx context.Context, s Store) error {
		if uerr := s.UpdateCreateOfferTask(ctx, row); uerr != nil {
			return uerr
		}
		for i := range fees {
			if ierr := s.InsertOfferSellFee(ctx, &fees[i]); ierr != nil {
				return ierr
			}
		}
		return nil
	})
	if err != nil {
		return monitor.Failure("STORE_ERROR", err.Error())
	}
	return monitor.Success()
}

// collectFees builds a fee-collection task per fill where the task's
// trade wallet sold for the pivot asset. Claim atoms report the maker
// side, so a fill of this sell offer shows the counterparty giving up
// the pivot asset for the offer's sell asset.
func (p *CreateOfferProcessor) collectFees(row *db.TaskCreateOffer, tx *monitor.DecodedTx[stellar.Operation], outcome *stellar.TxOutcome) []db.TaskOfferSellFee {
	if p.taskType != taskid.TypeOfferCreateSell {
		return nil
	}
	var fees []db.TaskOfferSellFee
	for _, claim := range outcome.Claimed {
		if claim.SoldAssetCode != p.pivot || claim.BoughtAssetCode != row.SellAssetCode {
			continue
		}
		bought := stellar.RawToDecimal(claim.SoldAmountRaw)
		fees = append(fees, db.TaskOfferSellFee{
			TaskID:          p.codec.Generate(taskid.TypeOfferSellFee).ID,
			OfferTxHash:     tx.Hash,
			OfferID:         claim.OfferID,
			TradeAddr:       row.TradeAddr,
			BuyerTradeAddr:  claim.Seller,
			SoldAssetCode:   claim.BoughtAssetCode,
			SoldAmount:      stellar.RawToDecimal(claim.BoughtAmountRaw),
			BoughtAssetCode: claim.SoldAssetCode,
			BoughtAmount:    bought,
			TxStatus:        db.BctxStatusQueued,
		})
		p.logger.Info("queued sell fee for observed fill",
			zap.String("task_id", row.TaskID),
			zap.Int64("offer_id", claim.OfferID),
			zap.String("bought_amount", bought.String()))
	}
	return fees
}
