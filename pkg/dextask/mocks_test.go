package dextask

import (
	"context"

	"github.com/openbridge/dex-middleware/pkg/db"
)

// MockStore is an in-memory mock implementation of Store
type MockStore struct {
	tasks    map[string]*db.TaskCreateOffer
	swaps    map[string]*db.TaskSwap
	sellFees []db.TaskOfferSellFee

	UpdateCreateOfferTaskFunc func(ctx context.Context, task *db.TaskCreateOffer) error
	UpdateSwapTaskFunc        func(ctx context.Context, task *db.TaskSwap) error
}

func NewMockStore() *MockStore {
	return &MockStore{
		tasks: make(map[string]*db.TaskCreateOffer),
		swaps: make(map[string]*db.TaskSwap),
	}
}

func (m *MockStore) put(task db.TaskCreateOffer) {
	t := task
	m.tasks[task.TaskID] = &t
}

func (m *MockStore) putSwap(task db.TaskSwap) {
	t := task
	m.swaps[task.TaskID] = &t
}

func (m *MockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

func (m *MockStore) GetCreateOfferTask(ctx context.Context, taskID string) (*db.TaskCreateOffer, error) {
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, db.ErrTaskNotFound
	}
	found := *t
	return &found, nil
}

func (m *MockStore) UpdateCreateOfferTask(ctx context.Context, task *db.TaskCreateOffer) error {
	if m.UpdateCreateOfferTaskFunc != nil {
		return m.UpdateCreateOfferTaskFunc(ctx, task)
	}
	t := *task
	m.tasks[task.TaskID] = &t
	return nil
}

func (m *MockStore) InsertOfferSellFee(ctx context.Context, task *db.TaskOfferSellFee) error {
	m.sellFees = append(m.sellFees, *task)
	return nil
}

func (m *MockStore) GetSwapTaskByDeancTask(ctx context.Context, deancTaskID string) (*db.TaskSwap, error) {
	for _, t := range m.swaps {
		if t.DeancTaskID != nil && *t.DeancTaskID == deancTaskID {
			found := *t
			return &found, nil
		}
	}
	return nil, db.ErrTaskNotFound
}

func (m *MockStore) UpdateSwapTask(ctx context.Context, task *db.TaskSwap) error {
	if m.UpdateSwapTaskFunc != nil {
		return m.UpdateSwapTaskFunc(ctx, task)
	}
	t := *task
	m.swaps[task.TaskID] = &t
	return nil
}
