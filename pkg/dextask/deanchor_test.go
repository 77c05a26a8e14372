package dextask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

func sentSwapTask(deancTaskID string) db.TaskSwap {
	deanc := deancTaskID
	hash := "deadbeef"
	when := time.Now().Add(-time.Minute)
	return db.TaskSwap{
		TaskID:            "W0000000000000000SWAP1",
		UserID:            7,
		Status:            db.SwapStatusRefundSent,
		SourceAssetCode:   "ABC",
		TargetAssetCode:   "USDX",
		SourceAmountRaw:   10_000_000,
		SwapperAddr:       "GSWAPPER",
		PrivateSourceAddr: "GPRIVATE",
		RefundFlag:        true,
		DeancTaskID:       &deanc,
		DeancTxHash:       &hash,
		ScheduleTimestamp: &when,
	}
}

func TestDeanchorConfirmsSentRefund(t *testing.T) {
	store := NewMockStore()
	deanc := taskid.Generate(taskid.TypeDeanchor)
	store.putSwap(sentSwapTask(deanc.ID))
	p := NewDeanchorProcessor(store, zap.NewNop())

	tx := &monitor.DecodedTx[stellar.Operation]{
		Hash:       "deadbeef",
		Successful: true,
		Result:     "AAAB",
		Memo:       deanc.ID,
	}
	result := p.Process(context.Background(), 1, deanc, tx)
	require.True(t, result.Success)

	got := store.swaps["W0000000000000000SWAP1"]
	require.NotNil(t, got)
	assert.Equal(t, db.SwapStatusRefundConfirmed, got.Status)
	assert.True(t, got.FinishFlag)
	assert.Nil(t, got.ScheduleTimestamp)
	require.NotNil(t, got.DeancTxResult)
	assert.Equal(t, "AAAB", *got.DeancTxResult)
}

func TestDeanchorIsIdempotent(t *testing.T) {
	store := NewMockStore()
	deanc := taskid.Generate(taskid.TypeDeanchor)
	task := sentSwapTask(deanc.ID)
	task.Status = db.SwapStatusRefundConfirmed
	task.FinishFlag = true
	store.putSwap(task)
	store.UpdateSwapTaskFunc = func(ctx context.Context, task *db.TaskSwap) error {
		t.Fatal("finished task must not be updated")
		return nil
	}
	p := NewDeanchorProcessor(store, zap.NewNop())

	result := p.Process(context.Background(), 1, deanc,
		&monitor.DecodedTx[stellar.Operation]{Hash: "deadbeef", Successful: true})
	assert.True(t, result.Success)
}

func TestDeanchorFailedTxLeavesWorkerInControl(t *testing.T) {
	store := NewMockStore()
	deanc := taskid.Generate(taskid.TypeDeanchor)
	store.putSwap(sentSwapTask(deanc.ID))
	p := NewDeanchorProcessor(store, zap.NewNop())

	result := p.Process(context.Background(), 1, deanc,
		&monitor.DecodedTx[stellar.Operation]{Hash: "deadbeef", Successful: false})
	require.True(t, result.Success)

	// The tx-catch worker keeps the retry budget; the task is untouched.
	got := store.swaps["W0000000000000000SWAP1"]
	assert.Equal(t, db.SwapStatusRefundSent, got.Status)
	assert.False(t, got.FinishFlag)
}

func TestDeanchorUnknownTaskFails(t *testing.T) {
	store := NewMockStore()
	p := NewDeanchorProcessor(store, zap.NewNop())

	result := p.Process(context.Background(), 1, taskid.Generate(taskid.TypeDeanchor),
		&monitor.DecodedTx[stellar.Operation]{Hash: "deadbeef", Successful: true})
	assert.False(t, result.Success)
	assert.Equal(t, "TASK_NOT_FOUND", result.Code)
}

func TestDeanchorStoreFailurePropagates(t *testing.T) {
	store := NewMockStore()
	deanc := taskid.Generate(taskid.TypeDeanchor)
	store.putSwap(sentSwapTask(deanc.ID))
	store.UpdateSwapTaskFunc = func(ctx context.Context, task *db.TaskSwap) error {
		return errors.New("db down")
	}
	p := NewDeanchorProcessor(store, zap.NewNop())

	result := p.Process(context.Background(), 1, deanc,
		&monitor.DecodedTx[stellar.Operation]{Hash: "deadbeef", Successful: true})
	assert.False(t, result.Success)
	assert.Equal(t, "STORE_ERROR", result.Code)
}
