package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// Monitor polls one chain and drives the handler stacks and the task
// processor registry. Failures in block, tx and receipt handlers abort
// the current batch so they are retried next poll; failures in task
// processors are contained per transaction in the monitor log.
type Monitor[B, T, R any] struct {
	source   Source[B, T, R]
	store    Store
	codec    *taskid.Codec
	registry *Registry[R]
	alarm    alarm.Sink
	logger   *zap.Logger

	interval  time.Duration
	pageLimit int

	blockHandlers   []BlockHandler[B]
	txHandlers      []TxHandler[R]
	receiptHandlers []ReceiptHandler[R]

	cursor     string
	cursorTime *time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a monitor over the given source. Handlers are attached
// with AddBlockHandler, AddTxHandler and AddReceiptHandler before Start.
func New[B, T, R any](
	source Source[B, T, R],
	store Store,
	codec *taskid.Codec,
	registry *Registry[R],
	sink alarm.Sink,
	logger *zap.Logger,
	interval time.Duration,
	pageLimit int,
) *Monitor[B, T, R] {
	return &Monitor[B, T, R]{
		source:    source,
		store:     store,
		codec:     codec,
		registry:  registry,
		alarm:     sink,
		logger:    logger.Named(string(source.Platform()) + "_monitor"),
		interval:  interval,
		pageLimit: pageLimit,
		stopCh:    make(chan struct{}),
	}
}

func (m *Monitor[B, T, R]) AddBlockHandler(h BlockHandler[B]) {
	m.blockHandlers = append(m.blockHandlers, h)
}

func (m *Monitor[B, T, R]) AddTxHandler(h TxHandler[R]) {
	m.txHandlers = append(m.txHandlers, h)
}

func (m *Monitor[B, T, R]) AddReceiptHandler(h ReceiptHandler[R]) {
	m.receiptHandlers = append(m.receiptHandlers, h)
}

// Start loads or seeds the cursor and begins polling.
func (m *Monitor[B, T, R]) Start(ctx context.Context) error {
	if err := m.loadCursor(ctx); err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}

	m.logger.Info("Starting monitor",
		zap.String("cursor", m.cursor),
		zap.Duration("interval", m.interval))

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop stops the poll loop and waits for the current batch to finish.
func (m *Monitor[B, T, R]) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("Monitor stopped")
}

// loadCursor restores the persisted paging position, seeding from the
// chain tail on first run so only new activity is observed.
func (m *Monitor[B, T, R]) loadCursor(ctx context.Context) error {
	cursor, err := m.store.GetCursor(ctx, m.source.Platform())
	if err == nil {
		m.cursor = cursor.PagingToken
		m.cursorTime = cursor.TokenTimestamp
		return nil
	}
	if !errors.Is(err, db.ErrCursorNotFound) {
		return err
	}

	seed, err := m.source.SeedCursor(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed cursor: %w", err)
	}
	if err := m.store.SaveCursor(ctx, m.source.Platform(), seed, nil); err != nil {
		return err
	}
	m.cursor = seed
	m.logger.Info("Seeded cursor from chain tail", zap.String("cursor", seed))
	return nil
}

func (m *Monitor[B, T, R]) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				metrics.MonitorPollsTotal.WithLabelValues(string(m.source.Platform()), "error").Inc()
				m.alarm.Error(string(m.source.Platform())+"_monitor", err,
					zap.String("cursor", m.cursor))
			} else {
				metrics.MonitorPollsTotal.WithLabelValues(string(m.source.Platform()), "ok").Inc()
			}
		}
	}
}

// poll drains all pages available behind the cursor. A full page is
// followed immediately by another fetch so the monitor catches up
// without waiting for the next tick.
func (m *Monitor[B, T, R]) poll(ctx context.Context) error {
	for {
		items, err := m.source.NextPage(ctx, m.cursor, m.pageLimit)
		if err != nil {
			return fmt.Errorf("failed to fetch page: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := m.processBatch(ctx, items); err != nil {
			return err
		}
		if len(items) < m.pageLimit {
			return nil
		}
	}
}

// processBatch walks one page of transactions in order. The cursor
// advances past every fully handled transaction; when a handler fails
// mid-batch the prefix stays committed and the failing transaction is
// retried next poll.
func (m *Monitor[B, T, R]) processBatch(ctx context.Context, items []TxItem[B, T]) (err error) {
	var opRows []db.OpReceipt

	defer func() {
		if saveErr := m.commit(ctx, opRows); saveErr != nil && err == nil {
			err = saveErr
		}
	}()

	for _, item := range items {
		select {
		case <-m.stopCh:
			return nil
		default:
		}

		if item.Block != nil {
			for _, h := range m.blockHandlers {
				if herr := h(ctx, item.Block); herr != nil {
					return fmt.Errorf("block handler failed: %w", herr)
				}
			}
		}

		decoded, derr := m.source.Decode(ctx, item.Tx)
		if derr != nil {
			return fmt.Errorf("failed to decode transaction: %w", derr)
		}

		for _, h := range m.txHandlers {
			if herr := h(ctx, decoded); herr != nil {
				return fmt.Errorf("tx handler failed for %s: %w", decoded.Hash, herr)
			}
		}

		if herr := m.updateBctxReceiptInfo(ctx, decoded); herr != nil {
			return herr
		}

		for _, receipt := range decoded.Receipts {
			for _, h := range m.receiptHandlers {
				if !h.Accepts(receipt) {
					continue
				}
				if herr := h.Handle(ctx, decoded, receipt); herr != nil {
					return fmt.Errorf("receipt handler failed for %s: %w", decoded.Hash, herr)
				}
			}
		}

		opRows = append(opRows, decoded.OpRows...)

		// Task dispatch failures never hold the cursor back.
		m.processTask(ctx, decoded)

		m.cursor = decoded.PagingToken
		t := decoded.Time
		m.cursorTime = &t
		metrics.MonitorTxProcessed.WithLabelValues(string(m.source.Platform())).Inc()
	}
	return nil
}

// commit persists receipts collected for the handled prefix and the
// cursor position.
func (m *Monitor[B, T, R]) commit(ctx context.Context, opRows []db.OpReceipt) error {
	if len(opRows) > 0 {
		if err := m.store.InsertOpReceipts(ctx, opRows); err != nil {
			return fmt.Errorf("failed to save receipts: %w", err)
		}
		metrics.ReceiptsSaved.WithLabelValues(string(m.source.Platform())).Add(float64(len(opRows)))
	}
	if err := m.store.SaveCursor(ctx, m.source.Platform(), m.cursor, m.cursorTime); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	if m.cursorTime != nil {
		metrics.MonitorCursorTimestamp.WithLabelValues(string(m.source.Platform())).
			Set(float64(m.cursorTime.Unix()))
	}
	return nil
}

// processTask dispatches task post-processing when the transaction memo
// decodes to a known task id. Every failure here is recorded on the
// monitor log row instead of propagating.
func (m *Monitor[B, T, R]) processTask(ctx context.Context, tx *DecodedTx[R]) {
	if tx.Memo == "" {
		return
	}
	task, err := m.codec.Decode(tx.Memo)
	if err != nil {
		// Not a task memo.
		return
	}

	exists, err := m.store.MonitorLogExists(ctx, tx.Hash)
	if err != nil {
		m.logger.Error("Failed to check monitor log", zap.String("tx", tx.Hash), zap.Error(err))
		return
	}
	if exists {
		m.logger.Info("Transaction already processed, skipping",
			zap.String("tx", tx.Hash),
			zap.String("task", task.ID))
		return
	}

	row := &db.TaskMonitorLog{
		TxHash:        tx.Hash,
		MemoTaskID:    task.ID,
		TaskType:      task.Type.String(),
		Ledger:        tx.Ledger,
		PagingToken:   tx.PagingToken,
		SourceAccount: tx.SourceAccount,
		Envelope:      tx.Envelope,
		Result:        tx.Result,
		FeePaid:       tx.FeePaid,
	}
	if err := m.store.InsertMonitorLog(ctx, row); err != nil {
		m.logger.Error("Failed to insert monitor log", zap.String("tx", tx.Hash), zap.Error(err))
		return
	}

	processor, ok := m.registry.Lookup(task.Type)
	if !ok {
		m.logger.Debug("No processor for task type",
			zap.String("task_type", task.Type.String()),
			zap.String("task", task.ID))
		return
	}

	result := processor.Process(ctx, row.ID, task, tx)
	outcome := "success"
	if !result.Success {
		outcome = "failure"
		m.logger.Warn("Task processing failed",
			zap.String("task", task.ID),
			zap.String("tx", tx.Hash),
			zap.String("code", result.Code),
			zap.String("message", result.Message))
	}
	metrics.TaskProcessorResults.WithLabelValues(task.Type.String(), outcome).Inc()

	var code, message *string
	if !result.Success {
		code, message = &result.Code, &result.Message
	}
	if err := m.store.UpdateMonitorLogResult(ctx, row.ID, result.Success, code, message); err != nil {
		m.logger.Error("Failed to update monitor log", zap.Int64("log_id", row.ID), zap.Error(err))
	}
}

// updateBctxReceiptInfo finalizes an outbound transfer whose latest
// submission attempt matches the observed transaction hash. The log row
// and the transfer summary commit together in the store. Transactions
// the bridge never submitted pass through untouched.
func (m *Monitor[B, T, R]) updateBctxReceiptInfo(ctx context.Context, tx *DecodedTx[R]) error {
	log, err := m.store.LatestSentBctxLog(ctx, tx.Hash)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up transfer attempt for %s: %w", tx.Hash, err)
	}
	if err := m.store.MarkBctxReceipt(ctx, log.ID, log.BctxID, tx.Successful, tx.Result); err != nil {
		return fmt.Errorf("failed to record transfer receipt for %s: %w", tx.Hash, err)
	}
	m.logger.Info("Recorded outbound transfer receipt",
		zap.String("tx", tx.Hash),
		zap.String("bctx_id", log.BctxID.String()),
		zap.Bool("successful", tx.Successful))
	return nil
}

// CheckTransactionStatus looks up a single transaction and reports
// whether it is on chain and succeeded. found is false while the
// transaction has not been confirmed yet.
func (m *Monitor[B, T, R]) CheckTransactionStatus(ctx context.Context, txID string) (found, successful bool, err error) {
	tx, err := m.source.Transaction(ctx, txID)
	if err != nil {
		return false, false, err
	}
	if tx == nil {
		return false, false, nil
	}
	decoded, err := m.source.Decode(ctx, *tx)
	if err != nil {
		return true, false, err
	}
	if uerr := m.updateBctxReceiptInfo(ctx, decoded); uerr != nil {
		m.logger.Error("Failed to record transfer receipt", zap.String("tx", txID), zap.Error(uerr))
	}
	return true, decoded.Successful, nil
}
