package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/db"
)

// TxChecker reports whether a submitted transaction landed on chain.
// The chain monitor satisfies this.
type TxChecker interface {
	CheckTransactionStatus(ctx context.Context, txID string) (found, successful bool, err error)
}

var errTxNotObserved = errors.New("refund transaction not observed on chain yet")

// SwapRefundTxCatchWorker confirms submitted refunds against the chain.
// A refund that is not observed within the retry budget, or that landed
// with a failed result, moves to the failed terminal state.
type SwapRefundTxCatchWorker struct {
	store      Store
	checker    TxChecker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
}

func NewSwapRefundTxCatchWorker(store Store, checker TxChecker, logger *zap.Logger, maxRetries int, interval time.Duration) *SwapRefundTxCatchWorker {
	return &SwapRefundTxCatchWorker{
		store:      store,
		checker:    checker,
		logger:     logger.Named("swap_refund_tx_catch"),
		maxRetries: maxRetries,
		interval:   interval,
	}
}

func (w *SwapRefundTxCatchWorker) Name() string                 { return "swap_refund_tx_catch" }
func (w *SwapRefundTxCatchWorker) StartStatus() db.SwapStatus   { return db.SwapStatusRefundSent }
func (w *SwapRefundTxCatchWorker) FailStatus() db.SwapStatus    { return db.SwapStatusRefundFailed }
func (w *SwapRefundTxCatchWorker) MaxRetries() int              { return w.maxRetries }
func (w *SwapRefundTxCatchWorker) RetryInterval() time.Duration { return w.interval }

func (w *SwapRefundTxCatchWorker) Proceed(ctx context.Context, task *db.TaskSwap) error {
	if task.DeancTxHash == nil {
		return errors.New("sent refund task has no transaction hash")
	}

	found, ok, err := w.checker.CheckTransactionStatus(ctx, *task.DeancTxHash)
	if err != nil {
		return err
	}
	if !found {
		return errTxNotObserved
	}
	if !ok {
		return fmt.Errorf("refund transaction %s failed on chain", *task.DeancTxHash)
	}

	task.Status = db.SwapStatusRefundConfirmed
	task.FinishFlag = true
	metrics.WorkerTasksTotal.WithLabelValues(w.Name(), "success").Inc()
	w.logger.Info("Refund confirmed",
		zap.String("task", task.TaskID),
		zap.String("tx", *task.DeancTxHash))
	return w.store.UpdateSwapTask(ctx, task)
}
