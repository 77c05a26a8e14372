package stellar

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stellar/go/price"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
)

// Signer produces a signature for a transaction hash on behalf of a
// bridge-controlled account. The remote signing service implements it;
// the returned signature is the base64 raw ed25519 signature.
type Signer interface {
	Sign(ctx context.Context, account string, digest []byte) (signature string, err error)
}

// Op is one operation inside a channel transaction: a payment, or a
// manage-offer. An offer with Amount zero and a
// non-zero OfferID cancels that offer.
type Op struct {
	Kind        string // "payment" or "manage_offer"
	Source      string
	Destination string
	AssetCode   string
	AssetIssuer string
	Amount      string

	BuyAssetCode   string
	BuyAssetIssuer string
	Price          string
	OfferID        int64
}

// NewPayment builds a payment operation.
func NewPayment(source, destination, assetCode, assetIssuer, amount string) Op {
	return Op{
		Kind:        "payment",
		Source:      source,
		Destination: destination,
		AssetCode:   assetCode,
		AssetIssuer: assetIssuer,
		Amount:      amount,
	}
}

// NewManageOffer builds a manage-offer operation selling AssetCode for
// BuyAssetCode at the given price. offerID zero creates a new offer.
func NewManageOffer(source, sellCode, sellIssuer, buyCode, buyIssuer, amount, price string, offerID int64) Op {
	return Op{
		Kind:           "manage_offer",
		Source:         source,
		AssetCode:      sellCode,
		AssetIssuer:    sellIssuer,
		BuyAssetCode:   buyCode,
		BuyAssetIssuer: buyIssuer,
		Amount:         amount,
		Price:          price,
		OfferID:        offerID,
	}
}

// asset maps a code/issuer pair to the wire asset. An empty issuer
// means the native asset.
func asset(code, issuer string) txnbuild.Asset {
	if issuer == "" {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: code, Issuer: issuer}
}

// compile converts the neutral operation into its wire form.
func (op Op) compile() (txnbuild.Operation, error) {
	switch op.Kind {
	case "payment":
		return &txnbuild.Payment{
			SourceAccount: op.Source,
			Destination:   op.Destination,
			Amount:        op.Amount,
			Asset:         asset(op.AssetCode, op.AssetIssuer),
		}, nil
	case "manage_offer":
		p, err := price.Parse(op.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid offer price %q: %w", op.Price, err)
		}
		return &txnbuild.ManageSellOffer{
			SourceAccount: op.Source,
			Selling:       asset(op.AssetCode, op.AssetIssuer),
			Buying:        asset(op.BuyAssetCode, op.BuyAssetIssuer),
			Amount:        op.Amount,
			Price:         p,
			OfferID:       op.OfferID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// BuiltTx is a signed channel transaction ready for submission.
type BuiltTx struct {
	Hash     string
	Envelope string
	Seq      int64
}

// TxBuilder builds payment transactions sourced from bridge-controlled
// accounts and has them signed remotely.
type TxBuilder struct {
	client            *Client
	signer            Signer
	networkPassphrase string
	baseFee           int64
	txTimeout         time.Duration
	logger            *zap.Logger
}

func NewTxBuilder(client *Client, signer Signer, networkPassphrase string, baseFee int64, txTimeout time.Duration, logger *zap.Logger) *TxBuilder {
	return &TxBuilder{
		client:            client,
		signer:            signer,
		networkPassphrase: networkPassphrase,
		baseFee:           baseFee,
		txTimeout:         txTimeout,
		logger:            logger.Named("txbuilder"),
	}
}

// Build builds and signs a transaction from the given source account,
// carrying memo as the task correlation memo. Extra signer accounts
// co-sign when operations are sourced from accounts other than the
// transaction source.
func (b *TxBuilder) Build(ctx context.Context, sourceAccount, memo string, ops []Op, extraSigners ...string) (*BuiltTx, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("a transaction needs at least one operation")
	}

	seq, err := b.client.AccountSequence(ctx, sourceAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sequence for %s: %w", sourceAccount, err)
	}
	seq++

	compiled := make([]txnbuild.Operation, 0, len(ops))
	for _, op := range ops {
		wire, cerr := op.compile()
		if cerr != nil {
			return nil, cerr
		}
		compiled = append(compiled, wire)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: sourceAccount, Sequence: seq},
		IncrementSequenceNum: false,
		Operations:           compiled,
		BaseFee:              b.baseFee,
		Memo:                 txnbuild.MemoText(memo),
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(int64(b.txTimeout.Seconds())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	digest, err := tx.Hash(b.networkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}

	signers := append([]string{sourceAccount}, extraSigners...)
	for _, account := range signers {
		sig, serr := b.signer.Sign(ctx, account, digest[:])
		if serr != nil {
			return nil, fmt.Errorf("failed to sign for %s: %w", account, serr)
		}
		tx, err = tx.AddSignatureBase64(b.networkPassphrase, account, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to attach signature for %s: %w", account, err)
		}
	}

	envelope, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return &BuiltTx{
		Hash:     hex.EncodeToString(digest[:]),
		Envelope: envelope,
		Seq:      seq,
	}, nil
}

// Submit posts a built transaction to the ledger.
func (b *TxBuilder) Submit(ctx context.Context, tx *BuiltTx) (*SubmissionResult, error) {
	start := time.Now()
	result, err := b.client.SubmitEnvelope(ctx, tx.Envelope)
	metrics.SubmitDuration.WithLabelValues("stellar").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	b.logger.Info("Transaction submitted",
		zap.String("hash", result.Hash),
		zap.Bool("successful", result.Successful))
	return result, nil
}
