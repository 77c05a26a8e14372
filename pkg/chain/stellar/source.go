package stellar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// paymentLike lists the operation types treated as value movements.
var paymentLike = map[string]bool{
	"payment":                      true,
	"path_payment_strict_receive":  true,
	"path_payment_strict_send":     true,
	"create_account":               true,
}

// Source adapts the horizon client to the monitor source contract. The
// ledger has no block handler use; transactions stream directly.
type Source struct {
	client *Client
	codec  *taskid.Codec
	logger *zap.Logger
}

// NewSource creates a horizon-backed monitor source.
func NewSource(client *Client, codec *taskid.Codec, logger *zap.Logger) *Source {
	return &Source{client: client, codec: codec, logger: logger.Named("stellar_source")}
}

func (s *Source) Platform() db.Platform {
	return db.PlatformStellar
}

// SeedCursor returns the paging token of the newest transaction so a
// fresh monitor only observes activity after its first start.
func (s *Source) SeedCursor(ctx context.Context) (string, error) {
	records, err := s.client.Transactions(ctx, "", "desc", 1)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		// empty chain: start from the beginning
		return "", nil
	}
	return records[0].PagingToken, nil
}

func (s *Source) NextPage(ctx context.Context, cursor string, limit int) ([]monitor.TxItem[int64, Transaction], error) {
	records, err := s.client.Transactions(ctx, cursor, "asc", limit)
	if err != nil {
		return nil, err
	}
	items := make([]monitor.TxItem[int64, Transaction], len(records))
	for i, tx := range records {
		items[i] = monitor.TxItem[int64, Transaction]{Tx: tx}
	}
	return items, nil
}

func (s *Source) Transaction(ctx context.Context, txID string) (*Transaction, error) {
	tx, err := s.client.Transaction(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

// Decode fetches the operations of a transaction and builds the neutral
// view. Only payment-like operations become receipts.
func (s *Source) Decode(ctx context.Context, tx Transaction) (*monitor.DecodedTx[Operation], error) {
	ops, err := s.client.Operations(ctx, tx.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch operations for %s: %w", tx.Hash, err)
	}

	memo := ""
	if tx.MemoType == "text" {
		memo = tx.Memo
	}

	var memoTask *string
	if memo != "" {
		if task, derr := s.codec.Decode(memo); derr == nil {
			memoTask = &task.ID
		}
	}

	status := "SUCCESS"
	if !tx.Successful {
		status = "FAILED"
	}

	decoded := &monitor.DecodedTx[Operation]{
		Hash:          tx.Hash,
		PagingToken:   tx.PagingToken,
		SourceAccount: tx.SourceAccount,
		Envelope:      tx.EnvelopeXdr,
		Result:        tx.ResultXdr,
		Ledger:        tx.Ledger,
		Time:          tx.CreatedAt,
		Successful:    tx.Successful,
		Memo:          memo,
		FeePaid:       tx.FeeCharged,
	}

	for i, op := range ops {
		if !paymentLike[op.Type] {
			continue
		}
		raw, perr := ParseAmount(op.Amount)
		if perr != nil {
			s.logger.Warn("Skipping operation with unparseable amount",
				zap.String("tx", tx.Hash), zap.String("op", op.ID), zap.Error(perr))
			continue
		}

		assetCode := op.AssetCode
		var issuer *string
		if op.AssetType == "native" {
			assetCode = "XLM"
		} else if op.AssetIssuer != "" {
			iss := op.AssetIssuer
			issuer = &iss
		}

		decoded.Receipts = append(decoded.Receipts, op)
		decoded.OpRows = append(decoded.OpRows, db.OpReceipt{
			TxHash:      tx.Hash,
			OpIndex:     i,
			Platform:    db.PlatformStellar,
			Status:      status,
			From:        op.From,
			To:          op.To,
			AssetCode:   assetCode,
			AssetIssuer: issuer,
			AmountRaw:   raw,
			MemoTaskID:  memoTask,
			Timestamp:   op.CreatedAt,
		})
	}
	return decoded, nil
}
