package anchor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
	"github.com/openbridge/dex-middleware/pkg/worker"
)

// Confirmer approves de-anchor refunds. *Client implements it.
type Confirmer interface {
	ConfirmDeanchor(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error)
}

// Builder builds and submits channel transactions. *stellar.TxBuilder
// implements it.
type Builder interface {
	Build(ctx context.Context, sourceAccount, memo string, ops []stellar.Op, extraSigners ...string) (*stellar.BuiltTx, error)
	Submit(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error)
}

// DeanchorLedger implements the swap refund worker's ledger: it clears
// each refund with the anchor server, withholds the de-anchoring fee,
// and pays the remainder back from the asset's base account.
type DeanchorLedger struct {
	anchor  Confirmer
	builder Builder
	tokens  *tokenmeta.Registry

	channelAccount     string
	deanchorFeeAccount string
	logger             *zap.Logger
}

func NewDeanchorLedger(anchor Confirmer, builder Builder, tokens *tokenmeta.Registry,
	channelAccount, deanchorFeeAccount string, logger *zap.Logger) *DeanchorLedger {
	return &DeanchorLedger{
		anchor:             anchor,
		builder:            builder,
		tokens:             tokens,
		channelAccount:     channelAccount,
		deanchorFeeAccount: deanchorFeeAccount,
		logger:             logger.Named("deanchor_ledger"),
	}
}

func (l *DeanchorLedger) BuildRefund(ctx context.Context, task *db.TaskSwap, refundTask taskid.TaskId) (*worker.RefundTx, error) {
	info, err := l.tokens.Get(task.SourceAssetCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", tokenmeta.ErrAssetNotFound, task.SourceAssetCode)
	}
	amount := stellar.RawToDecimal(task.SourceAmountRaw)

	conf, err := l.anchor.ConfirmDeanchor(ctx, ConfirmDeanchorRequest{
		TaskID:    refundTask.ID,
		AssetCode: task.SourceAssetCode,
		Amount:    amount.String(),
		To:        task.SwapperAddr,
	})
	if err != nil {
		return nil, err
	}
	if !conf.Confirmed {
		return nil, fmt.Errorf("anchor server declined refund: %s", conf.Reason)
	}
	fee := decimal.Zero
	if conf.FeeAmount != "" {
		fee, err = decimal.NewFromString(conf.FeeAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid fee amount %q: %w", conf.FeeAmount, err)
		}
	}
	refund := amount.Sub(fee)
	if !refund.IsPositive() {
		return nil, fmt.Errorf("de-anchoring fee %s consumes the whole refund %s", fee, amount)
	}

	ops := []stellar.Op{stellar.NewPayment(info.BaseAddress, task.SwapperAddr,
		info.AssetCode, info.IssuerAddress, refund.String())}
	if fee.IsPositive() {
		ops = append(ops, stellar.NewPayment(info.BaseAddress, l.deanchorFeeAccount,
			info.AssetCode, info.IssuerAddress, fee.String()))
	}

	tx, err := l.builder.Build(ctx, l.channelAccount, refundTask.ID, ops, info.BaseAddress)
	if err != nil {
		return nil, err
	}
	l.logger.Info("built de-anchor refund",
		zap.String("refund_task", refundTask.ID),
		zap.String("swap_task", task.TaskID),
		zap.String("refund", refund.String()),
		zap.String("fee", fee.String()))
	return &worker.RefundTx{Hash: tx.Hash, Envelope: tx.Envelope, Seq: tx.Seq}, nil
}

func (l *DeanchorLedger) SubmitRefund(ctx context.Context, tx *worker.RefundTx) (string, error) {
	result, err := l.builder.Submit(ctx, &stellar.BuiltTx{Hash: tx.Hash, Envelope: tx.Envelope, Seq: tx.Seq})
	if err != nil {
		return "", err
	}
	if !result.Successful {
		return "", fmt.Errorf("refund transaction rejected: %s", result.ResultXdr)
	}
	return result.ResultXdr, nil
}
