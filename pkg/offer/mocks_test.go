package offer

import (
	"context"
	"fmt"

	"github.com/stellar/go/xdr"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
)

// MockStore is an in-memory mock implementation of Store
type MockStore struct {
	createTasks map[string]*db.TaskCreateOffer
	deleteTasks map[string]*db.TaskDeleteOffer
	refunds     map[string]*db.TaskFeeRefund
	refundLogs  []db.TaskFeeRefundLog

	UpdateCreateOfferTaskFunc func(ctx context.Context, task *db.TaskCreateOffer) error
	UpdateDeleteOfferTaskFunc func(ctx context.Context, task *db.TaskDeleteOffer) error
	InsertFeeRefundFunc       func(ctx context.Context, task *db.TaskFeeRefund) error
}

func NewMockStore() *MockStore {
	return &MockStore{
		createTasks: make(map[string]*db.TaskCreateOffer),
		deleteTasks: make(map[string]*db.TaskDeleteOffer),
		refunds:     make(map[string]*db.TaskFeeRefund),
	}
}

func (m *MockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

func (m *MockStore) InsertCreateOfferTask(ctx context.Context, task *db.TaskCreateOffer) error {
	t := *task
	m.createTasks[task.TaskID] = &t
	return nil
}

func (m *MockStore) UpdateCreateOfferTask(ctx context.Context, task *db.TaskCreateOffer) error {
	if m.UpdateCreateOfferTaskFunc != nil {
		return m.UpdateCreateOfferTaskFunc(ctx, task)
	}
	t := *task
	m.createTasks[task.TaskID] = &t
	return nil
}

func (m *MockStore) GetCreateOfferTaskByOffer(ctx context.Context, tradeAddr string, offerID int64) (*db.TaskCreateOffer, error) {
	for _, t := range m.createTasks {
		if t.TradeAddr == tradeAddr && t.OfferID == offerID && t.PostTxFlag {
			found := *t
			return &found, nil
		}
	}
	return nil, db.ErrTaskNotFound
}

func (m *MockStore) InsertDeleteOfferTask(ctx context.Context, task *db.TaskDeleteOffer) error {
	t := *task
	m.deleteTasks[task.TaskID] = &t
	return nil
}

func (m *MockStore) UpdateDeleteOfferTask(ctx context.Context, task *db.TaskDeleteOffer) error {
	if m.UpdateDeleteOfferTaskFunc != nil {
		return m.UpdateDeleteOfferTaskFunc(ctx, task)
	}
	t := *task
	m.deleteTasks[task.TaskID] = &t
	return nil
}

func (m *MockStore) InsertFeeRefund(ctx context.Context, task *db.TaskFeeRefund) error {
	if m.InsertFeeRefundFunc != nil {
		return m.InsertFeeRefundFunc(ctx, task)
	}
	t := *task
	m.refunds[task.TaskID] = &t
	return nil
}

func (m *MockStore) ListUncheckedFeeRefunds(ctx context.Context, limit int) ([]db.TaskFeeRefund, error) {
	var out []db.TaskFeeRefund
	for _, r := range m.refunds {
		if !r.CheckedFlag {
			out = append(out, *r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) CountFeeRefundAttempts(ctx context.Context, taskID string) (int, error) {
	n := 0
	for _, l := range m.refundLogs {
		if l.TaskID == taskID {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) InsertFeeRefundLog(ctx context.Context, row *db.TaskFeeRefundLog) error {
	row.ID = int64(len(m.refundLogs) + 1)
	m.refundLogs = append(m.refundLogs, *row)
	return nil
}

func (m *MockStore) MarkFeeRefundChecked(ctx context.Context, taskID string) error {
	r, ok := m.refunds[taskID]
	if !ok {
		return fmt.Errorf("no refund row for %s", taskID)
	}
	r.CheckedFlag = true
	return nil
}

// firstCreateTask returns the single stored create task; tests that
// issue one CreateOffer call use it to inspect the row.
func (m *MockStore) firstCreateTask() *db.TaskCreateOffer {
	for _, t := range m.createTasks {
		return t
	}
	return nil
}

func (m *MockStore) firstDeleteTask() *db.TaskDeleteOffer {
	for _, t := range m.deleteTasks {
		return t
	}
	return nil
}

func (m *MockStore) firstRefund() *db.TaskFeeRefund {
	for _, r := range m.refunds {
		return r
	}
	return nil
}

// MockLedger is a mock implementation of Ledger
type MockLedger struct {
	builds  []builtCall
	submits []string

	BuildFunc  func(ctx context.Context, sourceAccount, memo string, ops []stellar.Op, extraSigners ...string) (*stellar.BuiltTx, error)
	SubmitFunc func(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error)
}

type builtCall struct {
	source  string
	memo    string
	ops     []stellar.Op
	signers []string
}

func (m *MockLedger) Build(ctx context.Context, sourceAccount, memo string, ops []stellar.Op, extraSigners ...string) (*stellar.BuiltTx, error) {
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, sourceAccount, memo, ops, extraSigners...)
	}
	m.builds = append(m.builds, builtCall{source: sourceAccount, memo: memo, ops: ops, signers: extraSigners})
	return &stellar.BuiltTx{
		Hash:     fmt.Sprintf("hash-%s-%d", memo, len(m.builds)),
		Envelope: "env-" + memo,
		Seq:      int64(100 + len(m.builds)),
	}, nil
}

func (m *MockLedger) Submit(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, tx)
	}
	m.submits = append(m.submits, tx.Hash)
	return &stellar.SubmissionResult{
		Hash:       tx.Hash,
		Successful: true,
		ResultXdr:  encodeOfferResult(42),
	}, nil
}

// MockBook is a mock implementation of OfferBook
type MockBook struct {
	OfferFunc func(ctx context.Context, offerID int64) (*stellar.Offer, error)
}

func (m *MockBook) Offer(ctx context.Context, offerID int64) (*stellar.Offer, error) {
	if m.OfferFunc != nil {
		return m.OfferFunc(ctx, offerID)
	}
	return nil, stellar.ErrNotFound
}

// MockAccounts is a mock implementation of AccountReader
type MockAccounts struct {
	AccountFunc func(ctx context.Context, accountID string) (*stellar.Account, error)
}

func (m *MockAccounts) Account(ctx context.Context, accountID string) (*stellar.Account, error) {
	if m.AccountFunc != nil {
		return m.AccountFunc(ctx, accountID)
	}
	return &stellar.Account{
		AccountID:     accountID,
		Sequence:      1000,
		SubentryCount: 2,
		Balances:      []stellar.Balance{{AssetType: "native", Balance: "100.0000000"}},
	}, nil
}

// mockResultSeller backs the offer entries in mocked transaction
// results; any well-formed account id works.
const mockResultSeller = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"

// encodeOfferResult renders the result envelope of a successful single
// manage-offer transaction whose offer rests on the book unfilled.
func encodeOfferResult(offerID int64) string {
	result := xdr.TransactionResult{
		FeeCharged: 100,
		Result: xdr.TransactionResultResult{
			Code: xdr.TransactionResultCodeTxSuccess,
			Results: &[]xdr.OperationResult{{
				Code: xdr.OperationResultCodeOpInner,
				Tr: &xdr.OperationResultTr{
					Type: xdr.OperationTypeManageSellOffer,
					ManageSellOfferResult: &xdr.ManageSellOfferResult{
						Code: xdr.ManageSellOfferResultCodeManageSellOfferSuccess,
						Success: &xdr.ManageOfferSuccessResult{
							Offer: xdr.ManageOfferSuccessResultOffer{
								Effect: xdr.ManageOfferEffectManageOfferCreated,
								Offer: &xdr.OfferEntry{
									SellerId: xdr.MustAddress(mockResultSeller),
									OfferId:  xdr.Int64(offerID),
									Selling:  xdr.MustNewCreditAsset("ABC", mockResultSeller),
									Buying:   xdr.MustNewCreditAsset("USDX", mockResultSeller),
									Amount:   1_000_000_000,
									Price:    xdr.Price{N: 2, D: 1},
								},
							},
						},
					},
				},
			}},
		},
	}
	encoded, err := xdr.MarshalBase64(result)
	if err != nil {
		panic(err)
	}
	return encoded
}
