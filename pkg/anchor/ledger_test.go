package anchor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
	"github.com/openbridge/dex-middleware/pkg/worker"
)

func newTestLedger(confirmer *MockConfirmer, builder *MockBuilder) *DeanchorLedger {
	tokens := tokenmeta.NewRegistry([]tokenmeta.ManagedInfo{
		{AssetCode: "ETH", Platform: db.PlatformEthereum,
			IssuerAddress: "GETHISSUER", BaseAddress: "GETHBASE"},
	}, "USDX")
	return NewDeanchorLedger(confirmer, builder, tokens, "GCHANNEL", "GDEANCFEE", zap.NewNop())
}

func swapTask() *db.TaskSwap {
	return &db.TaskSwap{
		TaskID:          "DEXBRGW00000000000SWAP01",
		Status:          db.SwapStatusRefundQueued,
		SourceAssetCode: "ETH",
		SourceAmountRaw: 15_000_000, // 1.5
		SwapperAddr:     "GSWAPPER",
	}
}

func TestBuildRefundWithholdsFee(t *testing.T) {
	builder := &MockBuilder{}
	l := newTestLedger(&MockConfirmer{}, builder)
	refundID := taskid.Generate(taskid.TypeSwapRefund)

	tx, err := l.BuildRefund(context.Background(), swapTask(), refundID)
	require.NoError(t, err)
	assert.NotEmpty(t, tx.Hash)

	require.Len(t, builder.builds, 1)
	call := builder.builds[0]
	assert.Equal(t, "GCHANNEL", call.source)
	assert.Equal(t, refundID.ID, call.memo)
	assert.Equal(t, []string{"GETHBASE"}, call.signers, "base account co-signs the payout")

	require.Len(t, call.ops, 2)
	assert.Equal(t, "GETHBASE", call.ops[0].Source)
	assert.Equal(t, "GSWAPPER", call.ops[0].Destination)
	assert.Equal(t, "1.4", call.ops[0].Amount, "default confirmation withholds 0.1")
	assert.Equal(t, "GDEANCFEE", call.ops[1].Destination)
	assert.Equal(t, "0.1", call.ops[1].Amount)
}

func TestBuildRefundZeroFeeSkipsFeePayment(t *testing.T) {
	builder := &MockBuilder{}
	confirmer := &MockConfirmer{
		ConfirmDeanchorFunc: func(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error) {
			return &DeanchorConfirmation{Confirmed: true}, nil
		},
	}
	l := newTestLedger(confirmer, builder)

	_, err := l.BuildRefund(context.Background(), swapTask(), taskid.Generate(taskid.TypeSwapRefund))
	require.NoError(t, err)
	require.Len(t, builder.builds, 1)
	require.Len(t, builder.builds[0].ops, 1)
	assert.Equal(t, "1.5", builder.builds[0].ops[0].Amount)
}

func TestBuildRefundDeclined(t *testing.T) {
	confirmer := &MockConfirmer{
		ConfirmDeanchorFunc: func(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error) {
			return &DeanchorConfirmation{Confirmed: false, Reason: "asset frozen"}, nil
		},
	}
	l := newTestLedger(confirmer, &MockBuilder{})

	_, err := l.BuildRefund(context.Background(), swapTask(), taskid.Generate(taskid.TypeSwapRefund))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset frozen")
}

func TestBuildRefundFeeConsumesAmount(t *testing.T) {
	confirmer := &MockConfirmer{
		ConfirmDeanchorFunc: func(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error) {
			return &DeanchorConfirmation{Confirmed: true, FeeAmount: "2"}, nil
		},
	}
	l := newTestLedger(confirmer, &MockBuilder{})

	_, err := l.BuildRefund(context.Background(), swapTask(), taskid.Generate(taskid.TypeSwapRefund))
	require.Error(t, err)
}

func TestSubmitRefundRejectedTx(t *testing.T) {
	builder := &MockBuilder{
		SubmitFunc: func(ctx context.Context, tx *stellar.BuiltTx) (*stellar.SubmissionResult, error) {
			return &stellar.SubmissionResult{Hash: tx.Hash, Successful: false, ResultXdr: "op_underfunded"}, nil
		},
	}
	l := newTestLedger(&MockConfirmer{}, builder)

	_, err := l.SubmitRefund(context.Background(), &worker.RefundTx{Hash: "h", Envelope: "e", Seq: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op_underfunded")
}

func TestSubmitRefundReturnsResultPayload(t *testing.T) {
	l := newTestLedger(&MockConfirmer{}, &MockBuilder{})
	result, err := l.SubmitRefund(context.Background(), &worker.RefundTx{Hash: "h", Envelope: "e", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "result-ok", result)
}

func TestBuildRefundUnknownAsset(t *testing.T) {
	l := newTestLedger(&MockConfirmer{}, &MockBuilder{})
	task := swapTask()
	task.SourceAssetCode = "ZZZ"
	_, err := l.BuildRefund(context.Background(), task, taskid.Generate(taskid.TypeSwapRefund))
	require.ErrorIs(t, err, tokenmeta.ErrAssetNotFound)
}
