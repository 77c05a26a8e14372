package stellar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testNetworkPassphrase = "Test SDF Network ; September 2015"

// recordingSigner hands out a fixed ed25519-sized signature and records
// which accounts were asked to sign.
type recordingSigner struct {
	accounts []string
	digests  [][]byte
}

func (s *recordingSigner) Sign(_ context.Context, account string, digest []byte) (string, error) {
	s.accounts = append(s.accounts, account)
	s.digests = append(s.digests, digest)
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 64)), nil
}

func accountServer(t *testing.T, sequence int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"account_id":     testIssuer,
			"sequence":       fmt.Sprintf("%d", sequence),
			"subentry_count": 2,
		}))
	}))
}

func TestTxBuilderBuildsSignedEnvelope(t *testing.T) {
	srv := accountServer(t, 1000)
	defer srv.Close()

	client, err := NewClient([]string{srv.URL}, time.Second, zap.NewNop())
	require.NoError(t, err)
	signer := &recordingSigner{}
	builder := NewTxBuilder(client, signer, testNetworkPassphrase, 100, 5*time.Minute, zap.NewNop())

	ops := []Op{
		NewManageOffer(testIssuer, "ABC", testIssuer, "USDX", testIssuer, "100", "2", 0),
		NewPayment(testMaker, testIssuer, "USDX", testIssuer, "2"),
	}
	built, err := builder.Build(context.Background(), testIssuer, "DEXBRGS0000000000TASK001", ops, testMaker)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), built.Seq)
	assert.Len(t, built.Hash, 64, "the hash is the hex transaction digest")

	var env xdr.TransactionEnvelope
	require.NoError(t, xdr.SafeUnmarshalBase64(built.Envelope, &env))
	require.Equal(t, xdr.EnvelopeTypeEnvelopeTypeTx, env.Type)

	tx := env.V1.Tx
	assert.Equal(t, testIssuer, tx.SourceAccount.Address())
	assert.Equal(t, xdr.SequenceNumber(1001), tx.SeqNum)
	assert.Equal(t, xdr.Uint32(200), tx.Fee, "base fee is charged per operation")
	require.Equal(t, xdr.MemoTypeMemoText, tx.Memo.Type)
	assert.Equal(t, "DEXBRGS0000000000TASK001", *tx.Memo.Text)

	require.Len(t, tx.Operations, 2)
	offerOp, ok := tx.Operations[0].Body.GetManageSellOfferOp()
	require.True(t, ok)
	assert.Equal(t, xdr.Int64(1_000_000_000), offerOp.Amount)
	assert.Equal(t, xdr.Price{N: 2, D: 1}, offerOp.Price)
	payOp, ok := tx.Operations[1].Body.GetPaymentOp()
	require.True(t, ok)
	assert.Equal(t, testIssuer, payOp.Destination.Address())

	require.Len(t, env.V1.Signatures, 2, "source and extra signer both sign")
	assert.Equal(t, []string{testIssuer, testMaker}, signer.accounts)
	require.Len(t, signer.digests, 2)
	assert.Len(t, signer.digests[0], 32, "the signer receives the transaction hash")
}

func TestTxBuilderNativeAssetPayment(t *testing.T) {
	srv := accountServer(t, 7)
	defer srv.Close()

	client, err := NewClient([]string{srv.URL}, time.Second, zap.NewNop())
	require.NoError(t, err)
	builder := NewTxBuilder(client, &recordingSigner{}, testNetworkPassphrase, 100, time.Minute, zap.NewNop())

	built, err := builder.Build(context.Background(), testIssuer, "memo",
		[]Op{NewPayment(testIssuer, testMaker, "XLM", "", "1.5")})
	require.NoError(t, err)

	var env xdr.TransactionEnvelope
	require.NoError(t, xdr.SafeUnmarshalBase64(built.Envelope, &env))
	payOp, ok := env.V1.Tx.Operations[0].Body.GetPaymentOp()
	require.True(t, ok)
	assert.Equal(t, xdr.AssetTypeAssetTypeNative, payOp.Asset.Type)
	assert.Equal(t, xdr.Int64(15_000_000), payOp.Amount)
}

func TestTxBuilderRejectsEmptyOps(t *testing.T) {
	builder := NewTxBuilder(nil, &recordingSigner{}, testNetworkPassphrase, 100, time.Minute, zap.NewNop())
	_, err := builder.Build(context.Background(), testIssuer, "memo", nil)
	require.Error(t, err)
}

func TestTxBuilderRejectsUnknownKind(t *testing.T) {
	srv := accountServer(t, 7)
	defer srv.Close()

	client, err := NewClient([]string{srv.URL}, time.Second, zap.NewNop())
	require.NoError(t, err)
	builder := NewTxBuilder(client, &recordingSigner{}, testNetworkPassphrase, 100, time.Minute, zap.NewNop())

	_, err = builder.Build(context.Background(), testIssuer, "memo", []Op{{Kind: "merge"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation kind")
}
