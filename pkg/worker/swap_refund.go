package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// RefundTx is a built, signed refund transaction ready for submission.
type RefundTx struct {
	Hash     string
	Envelope string
	Seq      int64
}

// RefundLedger builds and submits de-anchor refund transactions on the
// primary ledger.
type RefundLedger interface {
	BuildRefund(ctx context.Context, task *db.TaskSwap, refundTask taskid.TaskId) (*RefundTx, error)
	SubmitRefund(ctx context.Context, tx *RefundTx) (resultPayload string, err error)
}

// SwapRefundWorker picks up swap tasks queued for refund, builds the
// de-anchor transaction that returns the source asset to the swapper,
// and submits it. The envelope is persisted before submission so a
// crash between the two steps leaves a resumable trail.
type SwapRefundWorker struct {
	store      Store
	ledger     RefundLedger
	codec      *taskid.Codec
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
}

func NewSwapRefundWorker(store Store, ledger RefundLedger, codec *taskid.Codec, logger *zap.Logger, maxRetries int, interval time.Duration) *SwapRefundWorker {
	return &SwapRefundWorker{
		store:      store,
		ledger:     ledger,
		codec:      codec,
		logger:     logger.Named("swap_refund"),
		maxRetries: maxRetries,
		interval:   interval,
	}
}

func (w *SwapRefundWorker) Name() string                { return "swap_refund" }
func (w *SwapRefundWorker) StartStatus() db.SwapStatus  { return db.SwapStatusRefundQueued }
func (w *SwapRefundWorker) FailStatus() db.SwapStatus   { return db.SwapStatusRefundFailed }
func (w *SwapRefundWorker) MaxRetries() int             { return w.maxRetries }
func (w *SwapRefundWorker) RetryInterval() time.Duration { return w.interval }

func (w *SwapRefundWorker) Proceed(ctx context.Context, task *db.TaskSwap) error {
	refundID := w.codec.Generate(taskid.TypeSwapRefund)

	tx, err := w.ledger.BuildRefund(ctx, task, refundID)
	if err != nil {
		return err
	}

	task.DeancTaskID = &refundID.ID
	task.DeancTxSeq = tx.Seq
	task.DeancTxHash = &tx.Hash
	task.DeancTxEnvelope = &tx.Envelope
	task.Status = db.SwapStatusRefundRequested
	if err := w.store.UpdateSwapTask(ctx, task); err != nil {
		return err
	}

	result, err := w.ledger.SubmitRefund(ctx, tx)
	if err != nil {
		return err
	}

	task.DeancTxResult = &result
	task.Status = db.SwapStatusRefundSent
	w.logger.Info("Refund submitted",
		zap.String("task", task.TaskID),
		zap.String("refund_task", refundID.ID),
		zap.String("tx", tx.Hash))
	return w.store.UpdateSwapTask(ctx, task)
}
