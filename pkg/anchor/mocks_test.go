package anchor

import (
	"context"

	"github.com/google/uuid"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
)

// MockStore is an in-memory mock implementation of Store
type MockStore struct {
	tasks  map[string]*db.TaskAnchor
	queued []db.Bctx

	FindOpenAnchorTaskFunc func(ctx context.Context, platform db.Platform, aux *string, holderAddr string) (*db.TaskAnchor, error)
	EnqueueBctxFunc        func(ctx context.Context, bctx *db.Bctx) error
}

func NewMockStore() *MockStore {
	return &MockStore{tasks: make(map[string]*db.TaskAnchor)}
}

func (m *MockStore) put(task db.TaskAnchor) {
	t := task
	m.tasks[task.TaskID] = &t
}

func (m *MockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

func (m *MockStore) FindOpenAnchorTask(ctx context.Context, platform db.Platform, aux *string, holderAddr string) (*db.TaskAnchor, error) {
	if m.FindOpenAnchorTaskFunc != nil {
		return m.FindOpenAnchorTaskFunc(ctx, platform, aux, holderAddr)
	}
	for _, t := range m.tasks {
		if t.Platform != platform || t.BcRefID != nil || t.HolderAddr != holderAddr {
			continue
		}
		if (aux == nil) != (t.PlatformAux == nil) {
			continue
		}
		if aux != nil && *aux != *t.PlatformAux {
			continue
		}
		found := *t
		return &found, nil
	}
	return nil, db.ErrTaskNotFound
}

func (m *MockStore) UpdateAnchorTask(ctx context.Context, task *db.TaskAnchor) error {
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

func (m *MockStore) EnqueueBctx(ctx context.Context, bctx *db.Bctx) error {
	if m.EnqueueBctxFunc != nil {
		return m.EnqueueBctxFunc(ctx, bctx)
	}
	bctx.ID = uuid.New()
	bctx.Status = db.BctxStatusQueued
	m.queued = append(m.queued, *bctx)
	return nil
}

// MockIssuerStore is an in-memory mock implementation of IssuerStore
type MockIssuerStore struct {
	order []uuid.UUID
	rows  map[uuid.UUID]*db.Bctx
	sent  []sentCall

	MarkBctxSentFunc func(ctx context.Context, id uuid.UUID, bcRefID string) error
}

type sentCall struct {
	id      uuid.UUID
	bcRefID string
}

func NewMockIssuerStore() *MockIssuerStore {
	return &MockIssuerStore{rows: make(map[uuid.UUID]*db.Bctx)}
}

func (m *MockIssuerStore) add(bctx db.Bctx) uuid.UUID {
	if bctx.ID == uuid.Nil {
		bctx.ID = uuid.New()
	}
	if bctx.Status == "" {
		bctx.Status = db.BctxStatusQueued
	}
	b := bctx
	m.rows[b.ID] = &b
	m.order = append(m.order, b.ID)
	return b.ID
}

func (m *MockIssuerStore) ListQueuedBctx(ctx context.Context, platform db.Platform, limit int) ([]db.Bctx, error) {
	var out []db.Bctx
	for _, id := range m.order {
		row := m.rows[id]
		if row.Platform != platform || row.Status != db.BctxStatusQueued {
			continue
		}
		out = append(out, *row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockIssuerStore) GetBctx(ctx context.Context, id uuid.UUID) (*db.Bctx, error) {
	row, ok := m.rows[id]
	if !ok {
		return nil, db.ErrTaskNotFound
	}
	found := *row
	return &found, nil
}

func (m *MockIssuerStore) MarkBctxSent(ctx context.Context, id uuid.UUID, bcRefID string) error {
	if m.MarkBctxSentFunc != nil {
		return m.MarkBctxSentFunc(ctx, id, bcRefID)
	}
	row, ok := m.rows[id]
	if !ok {
		return db.ErrTaskNotFound
	}
	row.Status = db.BctxStatusSent
	m.sent = append(m.sent, sentCall{id: id, bcRefID: bcRefID})
	return nil
}

// MockTaskStore is an in-memory mock implementation of TaskStore
type MockTaskStore struct {
	anchorTasks []db.TaskAnchor
	swapTasks   []db.TaskSwap

	InsertAnchorTaskFunc func(ctx context.Context, task *db.TaskAnchor) error
	InsertSwapTaskFunc   func(ctx context.Context, task *db.TaskSwap) error
}

func (m *MockTaskStore) InsertAnchorTask(ctx context.Context, task *db.TaskAnchor) error {
	if m.InsertAnchorTaskFunc != nil {
		return m.InsertAnchorTaskFunc(ctx, task)
	}
	m.anchorTasks = append(m.anchorTasks, *task)
	return nil
}

func (m *MockTaskStore) InsertSwapTask(ctx context.Context, task *db.TaskSwap) error {
	if m.InsertSwapTaskFunc != nil {
		return m.InsertSwapTaskFunc(ctx, task)
	}
	m.swapTasks = append(m.swapTasks, *task)
	return nil
}

// MockConfirmer is a mock implementation of Confirmer
type MockConfirmer struct {
	ConfirmDeanchorFunc func(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error)
}

func (m *MockConfirmer) ConfirmDeanchor(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error) {
	if m.ConfirmDeanchorFunc != nil {
		return m.ConfirmDeanchorFunc(ctx, req)
	}
	return &DeanchorConfirmation{Confirmed: true, FeeAmount: "0.1"}, nil
}

// MockBuilder is a mock implementation of Builder
type MockBuilder struct {
	builds []builtCall

	BuildFunc  func(ctx context.Context, sourceAccount, memo string, ops []stellar.Op, extraSigners ...string) (*stellar.BuiltTx, error)
	SubmitFunc func(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error)
}

type builtCall struct {
	source  string
	memo    string
	ops     []stellar.Op
	signers []string
}

func (m *MockBuilder) Build(ctx context.Context, sourceAccount, memo string, ops []stellar.Op, extraSigners ...string) (*stellar.BuiltTx, error) {
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, sourceAccount, memo, ops, extraSigners...)
	}
	m.builds = append(m.builds, builtCall{source: sourceAccount, memo: memo, ops: ops, signers: extraSigners})
	return &stellar.BuiltTx{Hash: "hash-" + memo, Envelope: "env-" + memo, Seq: 9}, nil
}

func (m *MockBuilder) Submit(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, tx)
	}
	return &stellar.SubmissionResult{Hash: tx.Hash, Successful: true, ResultXdr: "result-ok"}, nil
}
