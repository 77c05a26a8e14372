package worker

import (
	"context"
	"time"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	tasks map[string]*db.TaskSwap

	ListDueSwapTasksFunc func(ctx context.Context, status db.SwapStatus, now time.Time) ([]db.TaskSwap, error)
	UpdateSwapTaskFunc   func(ctx context.Context, task *db.TaskSwap) error
}

func NewMockStore() *MockStore {
	return &MockStore{tasks: make(map[string]*db.TaskSwap)}
}

func (m *MockStore) put(task db.TaskSwap) {
	t := task
	m.tasks[task.TaskID] = &t
}

func (m *MockStore) ListDueSwapTasks(ctx context.Context, status db.SwapStatus, now time.Time) ([]db.TaskSwap, error) {
	if m.ListDueSwapTasksFunc != nil {
		return m.ListDueSwapTasksFunc(ctx, status, now)
	}
	var due []db.TaskSwap
	for _, t := range m.tasks {
		if t.Status != status || t.FinishFlag {
			continue
		}
		if t.ScheduleTimestamp != nil && t.ScheduleTimestamp.After(now) {
			continue
		}
		due = append(due, *t)
	}
	return due, nil
}

func (m *MockStore) UpdateSwapTask(ctx context.Context, task *db.TaskSwap) error {
	if m.UpdateSwapTaskFunc != nil {
		return m.UpdateSwapTaskFunc(ctx, task)
	}
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

// MockRefundLedger is a mock implementation of RefundLedger
type MockRefundLedger struct {
	BuildRefundFunc  func(ctx context.Context, task *db.TaskSwap, refundTask taskid.TaskId) (*RefundTx, error)
	SubmitRefundFunc func(ctx context.Context, tx *RefundTx) (string, error)
}

func (m *MockRefundLedger) BuildRefund(ctx context.Context, task *db.TaskSwap, refundTask taskid.TaskId) (*RefundTx, error) {
	if m.BuildRefundFunc != nil {
		return m.BuildRefundFunc(ctx, task, refundTask)
	}
	return &RefundTx{Hash: "hash-" + task.TaskID, Envelope: "env", Seq: 7}, nil
}

func (m *MockRefundLedger) SubmitRefund(ctx context.Context, tx *RefundTx) (string, error) {
	if m.SubmitRefundFunc != nil {
		return m.SubmitRefundFunc(ctx, tx)
	}
	return "result-ok", nil
}

// MockTxChecker is a mock implementation of TxChecker
type MockTxChecker struct {
	CheckTransactionStatusFunc func(ctx context.Context, txID string) (bool, bool, error)
}

func (m *MockTxChecker) CheckTransactionStatus(ctx context.Context, txID string) (bool, bool, error) {
	if m.CheckTransactionStatusFunc != nil {
		return m.CheckTransactionStatusFunc(ctx, txID)
	}
	return true, true, nil
}

// failingWorker always fails; used to exercise the retry policy.
type failingWorker struct {
	name     string
	max      int
	interval time.Duration
	err      error
	attempts int
}

func (w *failingWorker) Name() string                 { return w.name }
func (w *failingWorker) StartStatus() db.SwapStatus   { return db.SwapStatusRefundQueued }
func (w *failingWorker) FailStatus() db.SwapStatus    { return db.SwapStatusRefundFailed }
func (w *failingWorker) MaxRetries() int              { return w.max }
func (w *failingWorker) RetryInterval() time.Duration { return w.interval }

func (w *failingWorker) Proceed(ctx context.Context, task *db.TaskSwap) error {
	w.attempts++
	return w.err
}

// funcWorker delegates Proceed to a closure.
type funcWorker struct {
	name    string
	proceed func(ctx context.Context, task *db.TaskSwap) error
}

func (w *funcWorker) Name() string                 { return w.name }
func (w *funcWorker) StartStatus() db.SwapStatus   { return db.SwapStatusRefundQueued }
func (w *funcWorker) FailStatus() db.SwapStatus    { return db.SwapStatusRefundFailed }
func (w *funcWorker) MaxRetries() int              { return 0 }
func (w *funcWorker) RetryInterval() time.Duration { return time.Minute }
func (w *funcWorker) Proceed(ctx context.Context, task *db.TaskSwap) error {
	return w.proceed(ctx, task)
}
