package anchor

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/chain/evm"
	"github.com/openbridge/dex-middleware/pkg/chain/filecoin"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

const (
	ethHolder = "0x00000000000000000000000000000000000holder"
	abcToken  = "0x0000000000000000000000000000000000000abc"
)

func testTokens() *tokenmeta.Registry {
	return tokenmeta.NewRegistry([]tokenmeta.ManagedInfo{
		{AssetCode: "ETH", Platform: db.PlatformEthereum, IssuerAddress: "GETHISSUER",
			HolderAddress: ethHolder, Decimals: 18},
		{AssetCode: "ABC", Platform: db.PlatformEthereum, IssuerAddress: "GABCISSUER",
			HolderAddress: ethHolder, ContractAddress: abcToken, Decimals: 6},
		{AssetCode: "FIL", Platform: db.PlatformFilecoin, IssuerAddress: "GFILISSUER",
			HolderAddress: "f1holder", Decimals: 18},
		{AssetCode: "XYZ", Platform: db.PlatformStellarToken, IssuerAddress: "GXYZISSUER",
			HolderAddress: "GXYZHOLDER"},
	}, "USDX")
}

func nopSink() alarm.Sink { return alarm.NewLogSink(zap.NewNop()) }

func anchorTask(platform db.Platform, aux *string) db.TaskAnchor {
	holder := ethHolder
	switch platform {
	case db.PlatformFilecoin:
		holder = "f1holder"
	case db.PlatformStellarToken:
		holder = "GXYZHOLDER"
	}
	return db.TaskAnchor{
		TaskID:      "DEXBRGA0000000000ANCHOR1",
		UserID:      7,
		Platform:    platform,
		PlatformAux: aux,
		AssetCode:   "ETH",
		Amount:      decimal.RequireFromString("1.5"),
		PrivateAddr: "0xsender",
		HolderAddr:  holder,
		TradeAddr:   "GTRADE",
	}
}

func TestEvmNativeDepositMatches(t *testing.T) {
	store := NewMockStore()
	store.put(anchorTask(db.PlatformEthereum, nil))
	h := NewEvmHandler(db.PlatformEthereum, store, testTokens(), nopSink(), zap.NewNop())

	d := evm.Deposit{
		TxHash:     "0xdeadbeef",
		From:       "0xSENDER",
		To:         ethHolder,
		Value:      big.NewInt(0).Mul(big.NewInt(15), big.NewInt(1e17)), // 1.5 ETH
		Decimals:   18,
		Successful: true,
	}
	require.True(t, h.Accepts(d))
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[evm.Deposit]{Hash: d.TxHash}, d))

	task := store.tasks["DEXBRGA0000000000ANCHOR1"]
	require.NotNil(t, task.BcRefID)
	assert.Equal(t, "0xdeadbeef", *task.BcRefID)
	require.NotNil(t, task.IssueBctxID)

	require.Len(t, store.queued, 1)
	issue := store.queued[0]
	assert.Equal(t, db.PlatformStellarToken, issue.Platform)
	assert.Equal(t, "ETH", issue.Symbol)
	assert.Equal(t, "GETHISSUER", issue.AddressFrom)
	assert.Equal(t, "GTRADE", issue.AddressTo)
	assert.True(t, issue.Amount.Equal(decimal.RequireFromString("1.5")))
	require.NotNil(t, issue.TxAux)
	assert.Equal(t, task.TaskID, *issue.TxAux)
	assert.Equal(t, task.IssueBctxID.String(), issue.ID.String())
}

func TestEvmTokenDepositUsesContractCondition(t *testing.T) {
	store := NewMockStore()
	contract := abcToken
	store.put(anchorTask(db.PlatformErc20, &contract))
	h := NewEvmHandler(db.PlatformEthereum, store, testTokens(), nopSink(), zap.NewNop())

	d := evm.Deposit{
		TxHash:     "0xfeed",
		From:       "0xsender",
		To:         ethHolder,
		Contract:   &contract,
		Value:      big.NewInt(2_000_000), // 2.0 at 6 decimals
		Decimals:   6,
		Successful: true,
	}
	require.True(t, h.Accepts(d))
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[evm.Deposit]{Hash: d.TxHash}, d))

	require.Len(t, store.queued, 1)
	assert.Equal(t, "ABC", store.queued[0].Symbol)
	assert.True(t, store.queued[0].Amount.Equal(decimal.NewFromInt(2)))
}

func TestEvmDepositFromUnexpectedSenderSkipped(t *testing.T) {
	store := NewMockStore()
	store.put(anchorTask(db.PlatformEthereum, nil))
	h := NewEvmHandler(db.PlatformEthereum, store, testTokens(), nopSink(), zap.NewNop())

	d := evm.Deposit{
		TxHash:     "0xbad",
		From:       "0xintruder",
		To:         ethHolder,
		Value:      big.NewInt(1e18),
		Decimals:   18,
		Successful: true,
	}
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[evm.Deposit]{Hash: d.TxHash}, d))
	assert.Empty(t, store.queued)
	assert.Nil(t, store.tasks["DEXBRGA0000000000ANCHOR1"].BcRefID)
}

func TestEvmShortDepositSkipped(t *testing.T) {
	store := NewMockStore()
	store.put(anchorTask(db.PlatformEthereum, nil))
	h := NewEvmHandler(db.PlatformEthereum, store, testTokens(), nopSink(), zap.NewNop())

	d := evm.Deposit{
		TxHash:     "0xshort",
		From:       "0xsender",
		To:         ethHolder,
		Value:      big.NewInt(1e18), // 1.0 < requested 1.5
		Decimals:   18,
		Successful: true,
	}
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[evm.Deposit]{Hash: d.TxHash}, d))
	assert.Empty(t, store.queued)
}

func TestUnmatchedDepositDoesNotAbortBatch(t *testing.T) {
	store := NewMockStore()
	h := NewEvmHandler(db.PlatformEthereum, store, testTokens(), nopSink(), zap.NewNop())

	d := evm.Deposit{
		TxHash:     "0xorphan",
		From:       "0xsender",
		To:         ethHolder,
		Value:      big.NewInt(1e18),
		Decimals:   18,
		Successful: true,
	}
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[evm.Deposit]{Hash: d.TxHash}, d))
	assert.Empty(t, store.queued)
}

func TestEvmRevertedDepositIgnored(t *testing.T) {
	store := NewMockStore()
	store.put(anchorTask(db.PlatformEthereum, nil))
	h := NewEvmHandler(db.PlatformEthereum, store, testTokens(), nopSink(), zap.NewNop())

	d := evm.Deposit{
		TxHash:   "0xrevert",
		From:     "0xsender",
		To:       ethHolder,
		Value:    big.NewInt(2e18),
		Decimals: 18,
	}
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[evm.Deposit]{Hash: d.TxHash}, d))
	assert.Empty(t, store.queued)
}

func TestFilecoinDepositMatches(t *testing.T) {
	store := NewMockStore()
	task := anchorTask(db.PlatformFilecoin, nil)
	task.AssetCode = "FIL"
	task.PrivateAddr = "f1sender"
	task.Amount = decimal.NewFromInt(1)
	store.put(task)
	h := NewFilecoinHandler(store, testTokens(), nopSink(), zap.NewNop())

	d := filecoin.Deposit{
		CID:        "bafymsg",
		From:       "f1sender",
		To:         "f1holder",
		Value:      new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), // 1 FIL
		Successful: true,
	}
	require.True(t, h.Accepts(d))
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[filecoin.Deposit]{Hash: d.CID}, d))

	require.Len(t, store.queued, 1)
	assert.Equal(t, "FIL", store.queued[0].Symbol)
	assert.Equal(t, "bafymsg", *store.tasks[task.TaskID].BcRefID)
}

func TestStellarTokenDepositMatches(t *testing.T) {
	store := NewMockStore()
	issuer := "GXYZISSUER"
	task := anchorTask(db.PlatformStellarToken, &issuer)
	task.AssetCode = "XYZ"
	task.PrivateAddr = "GSENDER"
	task.Amount = decimal.RequireFromString("2.5")
	store.put(task)
	h := NewStellarHandler(store, testTokens(), nopSink(), zap.NewNop())

	op := stellar.Operation{
		Type:        "payment",
		From:        "GSENDER",
		To:          "GXYZHOLDER",
		Amount:      "2.5000000",
		AssetType:   "credit_alphanum4",
		AssetCode:   "XYZ",
		AssetIssuer: "GXYZISSUER",
	}
	require.True(t, h.Accepts(op))
	require.NoError(t, h.Handle(context.Background(), &monitor.DecodedTx[stellar.Operation]{Hash: "stellarhash"}, op))

	require.Len(t, store.queued, 1)
	assert.Equal(t, "XYZ", store.queued[0].Symbol)
	assert.Equal(t, "stellarhash", *store.tasks[task.TaskID].BcRefID)
}

func TestAcceptsRejectsUnwatchedAddresses(t *testing.T) {
	h := NewEvmHandler(db.PlatformEthereum, NewMockStore(), testTokens(), nopSink(), zap.NewNop())
	assert.False(t, h.Accepts(evm.Deposit{TxHash: "0x1", To: "0xnobody"}))
	assert.False(t, h.Accepts(evm.Deposit{}), "range sentinels are never deposits")

	sh := NewStellarHandler(NewMockStore(), testTokens(), nopSink(), zap.NewNop())
	assert.False(t, sh.Accepts(stellar.Operation{To: "GNOBODY"}))
}
