package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrCursorNotFound = errors.New("monitor cursor not found")
)

// Store provides database operations for the bridge backend. It works the
// same over a live connection and inside a transaction; see RunInTx.
type Store struct {
	db bun.IDB
}

// NewStore creates a new database store over a bun connection.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// RunInTx runs fn with a Store bound to a single database transaction.
// The transaction commits iff fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	db, ok := s.db.(*bun.DB)
	if !ok {
		// already inside a transaction
		return fn(ctx, s)
	}
	return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

// --- monitor cursor ---

// GetCursor returns the persisted paging position for a platform, or
// ErrCursorNotFound when the monitor has never run.
func (s *Store) GetCursor(ctx context.Context, platform Platform) (*MonitorCursor, error) {
	cursor := new(MonitorCursor)
	err := s.db.NewSelect().
		Model(cursor).
		Where("platform = ?", platform).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCursorNotFound
		}
		return nil, fmt.Errorf("failed to get monitor cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor upserts the paging position for a platform.
func (s *Store) SaveCursor(ctx context.Context, platform Platform, pagingToken string, tokenTime *time.Time) error {
	cursor := &MonitorCursor{
		Platform:       platform,
		PagingToken:    pagingToken,
		TokenTimestamp: tokenTime,
		UpdatedAt:      time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(cursor).
		On("CONFLICT (platform) DO UPDATE").
		Set("paging_token = EXCLUDED.paging_token").
		Set("token_timestamp = EXCLUDED.token_timestamp").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save monitor cursor: %w", err)
	}
	return nil
}

// --- operation receipts ---

// InsertOpReceipts batch-inserts operation receipts. Rows whose
// (tx_hash, op_index) already exist are skipped, so re-running a batch
// after a mid-batch failure is a no-op for the prefix already stored.
func (s *Store) InsertOpReceipts(ctx context.Context, receipts []OpReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().
		Model(&receipts).
		On("CONFLICT (tx_hash, op_index) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert op receipts: %w", err)
	}
	return nil
}

// --- task monitor log ---

// MonitorLogExists reports whether a transaction hash was already
// recorded by the monitor.
func (s *Store) MonitorLogExists(ctx context.Context, txHash string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*TaskMonitorLog)(nil)).
		Where("tx_hash = ?", txHash).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check monitor log: %w", err)
	}
	return exists, nil
}

// InsertMonitorLog stores a new monitor log row and fills in its ID.
func (s *Store) InsertMonitorLog(ctx context.Context, row *TaskMonitorLog) error {
	_, err := s.db.NewInsert().
		Model(row).
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert monitor log: %w", err)
	}
	return nil
}

// UpdateMonitorLogResult records the outcome of task post-processing on
// an existing monitor log row.
func (s *Store) UpdateMonitorLogResult(ctx context.Context, id int64, success bool, errCode, errMessage *string) error {
	_, err := s.db.NewUpdate().
		Model((*TaskMonitorLog)(nil)).
		Set("process_success = ?", success).
		Set("error_code = ?", errCode).
		Set("error_message = ?", errMessage).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update monitor log: %w", err)
	}
	return nil
}

// --- create/delete offer tasks ---

func (s *Store) InsertCreateOfferTask(ctx context.Context, task *TaskCreateOffer) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert create-offer task: %w", err)
	}
	return nil
}

func (s *Store) UpdateCreateOfferTask(ctx context.Context, task *TaskCreateOffer) error {
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model(task).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update create-offer task: %w", err)
	}
	return nil
}

// GetCreateOfferTask returns the create-offer task for a task id, or
// ErrTaskNotFound.
func (s *Store) GetCreateOfferTask(ctx context.Context, taskID string) (*TaskCreateOffer, error) {
	task := new(TaskCreateOffer)
	err := s.db.NewSelect().
		Model(task).
		Where("task_id = ?", taskID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get create-offer task: %w", err)
	}
	return task, nil
}

// GetCreateOfferTaskByOffer returns the most recent successfully posted
// create-offer task that opened the given offer for the given account.
func (s *Store) GetCreateOfferTaskByOffer(ctx context.Context, tradeAddr string, offerID int64) (*TaskCreateOffer, error) {
	task := new(TaskCreateOffer)
	err := s.db.NewSelect().
		Model(task).
		Where("trade_addr = ?", tradeAddr).
		Where("offer_id = ?", offerID).
		Where("post_tx_flag = TRUE").
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get create-offer task by offer: %w", err)
	}
	return task, nil
}

func (s *Store) InsertDeleteOfferTask(ctx context.Context, task *TaskDeleteOffer) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert delete-offer task: %w", err)
	}
	return nil
}

// GetDeleteOfferTask returns the delete-offer task for a task id, or
// ErrTaskNotFound.
func (s *Store) GetDeleteOfferTask(ctx context.Context, taskID string) (*TaskDeleteOffer, error) {
	task := new(TaskDeleteOffer)
	err := s.db.NewSelect().
		Model(task).
		Where("task_id = ?", taskID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get delete-offer task: %w", err)
	}
	return task, nil
}

func (s *Store) UpdateDeleteOfferTask(ctx context.Context, task *TaskDeleteOffer) error {
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model(task).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update delete-offer task: %w", err)
	}
	return nil
}

// --- sell fee tasks ---

func (s *Store) InsertOfferSellFee(ctx context.Context, task *TaskOfferSellFee) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert sell-fee task: %w", err)
	}
	return nil
}

// --- swap tasks ---

func (s *Store) InsertSwapTask(ctx context.Context, task *TaskSwap) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert swap task: %w", err)
	}
	return nil
}

func (s *Store) UpdateSwapTask(ctx context.Context, task *TaskSwap) error {
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model(task).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update swap task: %w", err)
	}
	return nil
}

// ListDueSwapTasks returns unfinished swap tasks in the given status
// whose schedule timestamp is unset or in the past, oldest first.
func (s *Store) ListDueSwapTasks(ctx context.Context, status SwapStatus, now time.Time) ([]TaskSwap, error) {
	var tasks []TaskSwap
	err := s.db.NewSelect().
		Model(&tasks).
		Where("status = ?", status).
		Where("finish_flag = FALSE").
		Where("schedule_timestamp IS NULL OR schedule_timestamp <= ?", now).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list due swap tasks: %w", err)
	}
	return tasks, nil
}

// GetSwapTaskByDeancTask returns the swap task whose refund de-anchor
// leg carries the given task id.
func (s *Store) GetSwapTaskByDeancTask(ctx context.Context, deancTaskID string) (*TaskSwap, error) {
	task := new(TaskSwap)
	err := s.db.NewSelect().
		Model(task).
		Where("deanc_task_id = ?", deancTaskID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get swap task: %w", err)
	}
	return task, nil
}

// --- anchor tasks ---

func (s *Store) InsertAnchorTask(ctx context.Context, task *TaskAnchor) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert anchor task: %w", err)
	}
	return nil
}

func (s *Store) UpdateAnchorTask(ctx context.Context, task *TaskAnchor) error {
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model(task).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update anchor task: %w", err)
	}
	return nil
}

// FindOpenAnchorTask returns the oldest anchor task on a platform that
// is waiting for a deposit to the given holder address and has not been
// matched to a chain event yet. aux narrows token deposits; pass nil for
// the platform's native asset.
func (s *Store) FindOpenAnchorTask(ctx context.Context, platform Platform, aux *string, holderAddr string) (*TaskAnchor, error) {
	task := new(TaskAnchor)
	query := s.db.NewSelect().
		Model(task).
		Where("platform = ?", platform).
		Where("lower(holder_addr) = lower(?)", holderAddr).
		Where("bc_ref_id IS NULL")
	if aux != nil {
		query = query.Where("lower(platform_aux) = lower(?)", *aux)
	} else {
		query = query.Where("platform_aux IS NULL")
	}
	err := query.Order("id ASC").Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find open anchor task: %w", err)
	}
	return task, nil
}

// --- bctx queue ---

// EnqueueBctx stores a new outbound transfer in QUEUED status.
func (s *Store) EnqueueBctx(ctx context.Context, bctx *Bctx) error {
	if bctx.ID == uuid.Nil {
		bctx.ID = uuid.New()
	}
	bctx.Status = BctxStatusQueued
	_, err := s.db.NewInsert().Model(bctx).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue bctx: %w", err)
	}
	return nil
}

func (s *Store) GetBctx(ctx context.Context, id uuid.UUID) (*Bctx, error) {
	bctx := new(Bctx)
	err := s.db.NewSelect().
		Model(bctx).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get bctx: %w", err)
	}
	return bctx, nil
}

// ListQueuedBctx returns outbound transfers awaiting submission, oldest
// first.
func (s *Store) ListQueuedBctx(ctx context.Context, platform Platform, limit int) ([]Bctx, error) {
	var rows []Bctx
	err := s.db.NewSelect().
		Model(&rows).
		Where("platform = ?", platform).
		Where("status = ?", BctxStatusQueued).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued bctx: %w", err)
	}
	return rows, nil
}

// MarkBctxSent flips a bctx to SENT and records the submission attempt.
func (s *Store) MarkBctxSent(ctx context.Context, id uuid.UUID, bcRefID string) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		_, err := tx.db.NewUpdate().
			Model((*Bctx)(nil)).
			Set("status = ?", BctxStatusSent).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark bctx sent: %w", err)
		}
		log := &BctxLog{BctxID: id, Status: BctxStatusSent, BcRefID: &bcRefID}
		if _, err := tx.db.NewInsert().Model(log).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert bctx log: %w", err)
		}
		return nil
	})
}

// LatestSentBctxLog returns the newest SENT submission attempt with the
// given chain reference, or ErrTaskNotFound.
func (s *Store) LatestSentBctxLog(ctx context.Context, bcRefID string) (*BctxLog, error) {
	log := new(BctxLog)
	err := s.db.NewSelect().
		Model(log).
		Where("lower(bc_ref_id) = lower(?)", bcRefID).
		Where("status = ?", BctxStatusSent).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get sent bctx log: %w", err)
	}
	return log, nil
}

// MarkBctxReceipt finalizes a submission attempt from its chain receipt.
// The log row and the parent bctx are updated in one transaction so a
// transfer can never be SUCCESS while its attempt is still SENT.
func (s *Store) MarkBctxReceipt(ctx context.Context, logID int64, bctxID uuid.UUID, success bool, receipt string) error {
	status := BctxStatusSuccess
	if !success {
		status = BctxStatusFailed
	}
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		_, err := tx.db.NewUpdate().
			Model((*BctxLog)(nil)).
			Set("status = ?", status).
			Set("tx_receipt = ?", receipt).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", logID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update bctx log: %w", err)
		}
		_, err = tx.db.NewUpdate().
			Model((*Bctx)(nil)).
			Set("status = ?", status).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", bctxID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update bctx: %w", err)
		}
		return nil
	})
}

// --- fee refunds ---

func (s *Store) InsertFeeRefund(ctx context.Context, task *TaskFeeRefund) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert fee refund: %w", err)
	}
	return nil
}

// ListUncheckedFeeRefunds returns refunds that have not reached a
// terminal outcome yet, oldest first.
func (s *Store) ListUncheckedFeeRefunds(ctx context.Context, limit int) ([]TaskFeeRefund, error) {
	var rows []TaskFeeRefund
	err := s.db.NewSelect().
		Model(&rows).
		Where("checked_flag = FALSE").
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee refunds: %w", err)
	}
	return rows, nil
}

// CountFeeRefundAttempts returns how many attempts were already logged
// for a refund task.
func (s *Store) CountFeeRefundAttempts(ctx context.Context, taskID string) (int, error) {
	count, err := s.db.NewSelect().
		Model((*TaskFeeRefundLog)(nil)).
		Where("task_id = ?", taskID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count refund attempts: %w", err)
	}
	return count, nil
}

func (s *Store) InsertFeeRefundLog(ctx context.Context, row *TaskFeeRefundLog) error {
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert fee refund log: %w", err)
	}
	return nil
}

// MarkFeeRefundChecked marks a refund task terminal.
func (s *Store) MarkFeeRefundChecked(ctx context.Context, taskID string) error {
	_, err := s.db.NewUpdate().
		Model((*TaskFeeRefund)(nil)).
		Set("checked_flag = TRUE").
		Where("task_id = ?", taskID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark fee refund checked: %w", err)
	}
	return nil
}
