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

// DeanchorProcessor confirms swap refunds from the observed de-anchor
// transaction. It closes the refund ahead of the tx-catch worker's next
// poll; the worker's own confirmation is then a no-op because the task
// has left its start status.
type DeanchorProcessor struct {
	store  Store
	logger *zap.Logger
}

func NewDeanchorProcessor(store Store, logger *zap.Logger) *DeanchorProcessor {
	return &DeanchorProcessor{
		store:  store,
		logger: logger.Named("deanchor"),
	}
}

func (p *DeanchorProcessor) TaskType() taskid.Type { return taskid.TypeDeanchor }

func (p *DeanchorProcessor) Process(ctx context.Context, logID int64, task taskid.TaskId, tx *monitor.DecodedTx[stellar.Operation]) monitor.ProcessResult {
	row, err := p.store.GetSwapTaskByDeancTask(ctx, task.ID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return monitor.Failure("TASK_NOT_FOUND", fmt.Sprintf("no swap task for de-anchor %s", task.ID))
		}
		return monitor.Failure("STORE_ERROR", err.Error())
	}
	if row.FinishFlag {
		return monitor.Success()
	}
	if !tx.Successful {
		// The refund envelope failed on-chain. Leave the task to the
		// tx-catch worker's retry budget.
		p.logger.Warn("observed failed de-anchor transaction",
			zap.String("task", row.TaskID),
			zap.String("tx", tx.Hash))
		return monitor.Success()
	}

	row.Status = db.SwapStatusRefundConfirmed
	row.FinishFlag = true
	row.ScheduleTimestamp = nil
	if tx.Result != "" {
		result := tx.Result
		row.DeancTxResult = &result
	}
	if err := p.store.UpdateSwapTask(ctx, row); err != nil {
		return monitor.Failure("STORE_ERROR", err.Error())
	}
	p.logger.Info("confirmed swap refund from chain",
		zap.String("task", row.TaskID),
		zap.String("tx", tx.Hash))
	return monitor.Success()
}
