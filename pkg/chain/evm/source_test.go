package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

const (
	testHolder   = "0x1111111111111111111111111111111111111111"
	testContract = "0x2222222222222222222222222222222222222222"
	testSender   = "0x3333333333333333333333333333333333333333"
)

// fakeBackend serves a fixed chain picture to the source.
type fakeBackend struct {
	head uint64
	logs []types.Log
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackend) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return types.NewBlockWithHeader(&types.Header{
		Number: new(big.Int).Set(number),
		Time:   1700000000,
	}), nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < q.FromBlock.Uint64() || lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func usdtRegistry() *tokenmeta.Registry {
	return tokenmeta.NewRegistry([]tokenmeta.ManagedInfo{{
		AssetCode:       "USDT",
		Platform:        db.PlatformEthereum,
		HolderAddress:   testHolder,
		ContractAddress: testContract,
		Decimals:        6,
	}}, "USDX")
}

func newTestSource(backend *fakeBackend, meta *tokenmeta.Registry, confirmations, batch int64) *Source {
	client := &Client{Backend: backend, logger: zap.NewNop()}
	return NewSource(client, db.PlatformEthereum, testHolder, meta, confirmations, batch, zap.NewNop())
}

func transferLog(block uint64, index uint, value int64) types.Log {
	return types.Log{
		Address: common.HexToAddress(testContract),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(common.HexToAddress(testSender).Bytes()),
			common.BytesToHash(common.HexToAddress(testHolder).Bytes()),
		},
		Data:        common.BytesToHash(big.NewInt(value).Bytes()).Bytes(),
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(block), byte(index)}),
		Index:       index,
	}
}

func TestCursorRoundTrip(t *testing.T) {
	block, idx, err := parseCursor("")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)
	assert.Equal(t, uint(0), idx)

	block, idx, err = parseCursor(cursorOf(18123456, 42))
	require.NoError(t, err)
	assert.Equal(t, uint64(18123456), block)
	assert.Equal(t, uint(42), idx)

	block, idx, err = parseCursor("500")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), block)
	assert.Equal(t, uint(0), idx)

	_, _, err = parseCursor("abc-1")
	require.Error(t, err)
	_, _, err = parseCursor("1-abc")
	require.Error(t, err)
}

func TestSeedCursorSkipsHistory(t *testing.T) {
	source := newTestSource(&fakeBackend{head: 100}, usdtRegistry(), 6, 10)

	cursor, err := source.SeedCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cursorOf(94, rangeEndIndex), cursor)
}

func TestSeedCursorClampsShortChain(t *testing.T) {
	source := newTestSource(&fakeBackend{head: 3}, usdtRegistry(), 6, 10)

	cursor, err := source.SeedCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cursorOf(0, rangeEndIndex), cursor)
}

func TestNextPageWaitsForConfirmations(t *testing.T) {
	source := newTestSource(&fakeBackend{head: 10}, usdtRegistry(), 6, 10)

	// Block 5 only has 5 confirmations at head 10.
	items, err := source.NextPage(context.Background(), cursorOf(4, rangeEndIndex), 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNextPageSentinelAdvancesEmptyRange(t *testing.T) {
	source := newTestSource(&fakeBackend{head: 30}, usdtRegistry(), 6, 5)

	items, err := source.NextPage(context.Background(), cursorOf(9, rangeEndIndex), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	sentinel := items[0].Tx
	assert.Equal(t, "", sentinel.TxHash)
	assert.Equal(t, uint64(14), sentinel.BlockNumber)
	assert.Equal(t, rangeEndIndex, sentinel.LogIndex)

	decoded, err := source.Decode(context.Background(), sentinel)
	require.NoError(t, err)
	assert.Equal(t, cursorOf(14, rangeEndIndex), decoded.PagingToken)
	assert.Empty(t, decoded.Receipts)
}

func TestNextPageCapsRangeAtSafeHead(t *testing.T) {
	source := newTestSource(&fakeBackend{head: 18}, usdtRegistry(), 6, 10)

	// The batch would reach block 19 but only 12 is confirmed.
	items, err := source.NextPage(context.Background(), cursorOf(9, rangeEndIndex), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, uint64(12), items[0].Tx.BlockNumber)
}

func TestNextPageResolvesTokenDecimals(t *testing.T) {
	backend := &fakeBackend{
		head: 30,
		logs: []types.Log{transferLog(10, 3, 2_500_000)}, // 2.5 USDT at 6 decimals
	}
	source := newTestSource(backend, usdtRegistry(), 6, 5)

	items, err := source.NextPage(context.Background(), cursorOf(9, rangeEndIndex), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0].Tx
	require.NotNil(t, got.Contract)
	assert.Equal(t, common.HexToAddress(testContract).Hex(), *got.Contract)
	assert.Equal(t, 6, got.Decimals)
	assert.Equal(t, big.NewInt(2_500_000), got.Value)

	decoded, err := source.Decode(context.Background(), got)
	require.NoError(t, err)
	require.Len(t, decoded.OpRows, 1)
	row := decoded.OpRows[0]
	assert.Equal(t, db.PlatformErc20, row.Platform)
	assert.Equal(t, "USDT", row.AssetCode)
	assert.Equal(t, int64(25_000_000), row.AmountRaw)
}

func TestNextPageSkipsDepositsAtOrBeforeCursor(t *testing.T) {
	backend := &fakeBackend{
		head: 30,
		logs: []types.Log{
			transferLog(10, 1, 100),
			transferLog(10, 5, 200),
		},
	}
	source := newTestSource(backend, usdtRegistry(), 6, 5)

	items, err := source.NextPage(context.Background(), cursorOf(10, 1), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, uint(5), items[0].Tx.LogIndex)
}

func TestScaleToRaw(t *testing.T) {
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.Equal(t, int64(10_000_000), scaleToRaw(one, 18))
	assert.Equal(t, int64(25_000_000), scaleToRaw(big.NewInt(2_500_000), 6))
	assert.Equal(t, int64(5), scaleToRaw(big.NewInt(5), 7))
	assert.Equal(t, int64(0), scaleToRaw(nil, 18))

	// Values past int64 floor to zero rather than wrapping.
	huge := new(big.Int).Exp(big.NewInt(10), big.NewInt(40), nil)
	assert.Equal(t, int64(0), scaleToRaw(huge, 18))
}
