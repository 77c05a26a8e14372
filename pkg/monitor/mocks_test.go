package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// fakeTx is the raw transaction type used by the test source.
type fakeTx struct {
	hash  string
	token string
	memo  string
}

// fakeReceipt is the receipt type used by the test source.
type fakeReceipt struct {
	to     string
	amount int64
}

// MockSource is a mock implementation of Source
type MockSource struct {
	PlatformFunc    func() db.Platform
	SeedCursorFunc  func(ctx context.Context) (string, error)
	NextPageFunc    func(ctx context.Context, cursor string, limit int) ([]TxItem[int64, fakeTx], error)
	TransactionFunc func(ctx context.Context, txID string) (*fakeTx, error)
	DecodeFunc      func(ctx context.Context, tx fakeTx) (*DecodedTx[fakeReceipt], error)
}

func (m *MockSource) Platform() db.Platform {
	if m.PlatformFunc != nil {
		return m.PlatformFunc()
	}
	return db.PlatformStellar
}

func (m *MockSource) SeedCursor(ctx context.Context) (string, error) {
	if m.SeedCursorFunc != nil {
		return m.SeedCursorFunc(ctx)
	}
	return "", nil
}

func (m *MockSource) NextPage(ctx context.Context, cursor string, limit int) ([]TxItem[int64, fakeTx], error) {
	if m.NextPageFunc != nil {
		return m.NextPageFunc(ctx, cursor, limit)
	}
	return nil, nil
}

func (m *MockSource) Transaction(ctx context.Context, txID string) (*fakeTx, error) {
	if m.TransactionFunc != nil {
		return m.TransactionFunc(ctx, txID)
	}
	return nil, nil
}

func (m *MockSource) Decode(ctx context.Context, tx fakeTx) (*DecodedTx[fakeReceipt], error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(ctx, tx)
	}
	return &DecodedTx[fakeReceipt]{
		Hash:        tx.hash,
		PagingToken: tx.token,
		Memo:        tx.memo,
		Successful:  true,
		Time:        time.Unix(1700000000, 0),
	}, nil
}

// bctxReceipt records one MarkBctxReceipt call.
type bctxReceipt struct {
	logID   int64
	bctxID  uuid.UUID
	success bool
	receipt string
}

// MockStore is a mock implementation of Store
type MockStore struct {
	cursors      map[db.Platform]*db.MonitorCursor
	logs         map[string]*db.TaskMonitorLog
	receipts     []db.OpReceipt
	sentBctxLogs map[string]*db.BctxLog
	bctxReceipts []bctxReceipt
	nextLogID    int64

	GetCursorFunc        func(ctx context.Context, platform db.Platform) (*db.MonitorCursor, error)
	SaveCursorFunc       func(ctx context.Context, platform db.Platform, token string, ts *time.Time) error
	InsertOpReceiptsFunc func(ctx context.Context, receipts []db.OpReceipt) error
	MarkBctxReceiptFunc  func(ctx context.Context, logID int64, bctxID uuid.UUID, success bool, receipt string) error
}

func NewMockStore() *MockStore {
	return &MockStore{
		cursors:      make(map[db.Platform]*db.MonitorCursor),
		logs:         make(map[string]*db.TaskMonitorLog),
		sentBctxLogs: make(map[string]*db.BctxLog),
	}
}

func (m *MockStore) GetCursor(ctx context.Context, platform db.Platform) (*db.MonitorCursor, error) {
	if m.GetCursorFunc != nil {
		return m.GetCursorFunc(ctx, platform)
	}
	cursor, ok := m.cursors[platform]
	if !ok {
		return nil, db.ErrCursorNotFound
	}
	return cursor, nil
}

func (m *MockStore) SaveCursor(ctx context.Context, platform db.Platform, token string, ts *time.Time) error {
	if m.SaveCursorFunc != nil {
		return m.SaveCursorFunc(ctx, platform, token, ts)
	}
	m.cursors[platform] = &db.MonitorCursor{Platform: platform, PagingToken: token, TokenTimestamp: ts}
	return nil
}

func (m *MockStore) InsertOpReceipts(ctx context.Context, receipts []db.OpReceipt) error {
	if m.InsertOpReceiptsFunc != nil {
		return m.InsertOpReceiptsFunc(ctx, receipts)
	}
	m.receipts = append(m.receipts, receipts...)
	return nil
}

func (m *MockStore) MonitorLogExists(ctx context.Context, txHash string) (bool, error) {
	_, ok := m.logs[txHash]
	return ok, nil
}

func (m *MockStore) InsertMonitorLog(ctx context.Context, row *db.TaskMonitorLog) error {
	m.nextLogID++
	row.ID = m.nextLogID
	m.logs[row.TxHash] = row
	return nil
}

func (m *MockStore) UpdateMonitorLogResult(ctx context.Context, id int64, success bool, errCode, errMessage *string) error {
	for _, row := range m.logs {
		if row.ID == id {
			row.ProcessSuccess = success
			row.ErrorCode = errCode
			row.ErrorMessage = errMessage
			return nil
		}
	}
	return db.ErrTaskNotFound
}

func (m *MockStore) LatestSentBctxLog(ctx context.Context, bcRefID string) (*db.BctxLog, error) {
	log, ok := m.sentBctxLogs[bcRefID]
	if !ok {
		return nil, db.ErrTaskNotFound
	}
	return log, nil
}

func (m *MockStore) MarkBctxReceipt(ctx context.Context, logID int64, bctxID uuid.UUID, success bool, receipt string) error {
	if m.MarkBctxReceiptFunc != nil {
		return m.MarkBctxReceiptFunc(ctx, logID, bctxID, success, receipt)
	}
	m.bctxReceipts = append(m.bctxReceipts, bctxReceipt{logID: logID, bctxID: bctxID, success: success, receipt: receipt})
	return nil
}

// MockProcessor is a mock implementation of Processor
type MockProcessor struct {
	taskType    taskid.Type
	ProcessFunc func(ctx context.Context, logID int64, task taskid.TaskId, tx *DecodedTx[fakeReceipt]) ProcessResult
}

func (m *MockProcessor) TaskType() taskid.Type {
	return m.taskType
}

func (m *MockProcessor) Process(ctx context.Context, logID int64, task taskid.TaskId, tx *DecodedTx[fakeReceipt]) ProcessResult {
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, logID, task, tx)
	}
	return Success()
}

// MockReceiptHandler is a mock implementation of ReceiptHandler
type MockReceiptHandler struct {
	AcceptsFunc func(receipt fakeReceipt) bool
	HandleFunc  func(ctx context.Context, tx *DecodedTx[fakeReceipt], receipt fakeReceipt) error
}

func (m *MockReceiptHandler) Accepts(receipt fakeReceipt) bool {
	if m.AcceptsFunc != nil {
		return m.AcceptsFunc(receipt)
	}
	return true
}

func (m *MockReceiptHandler) Handle(ctx context.Context, tx *DecodedTx[fakeReceipt], receipt fakeReceipt) error {
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, tx, receipt)
	}
	return nil
}
