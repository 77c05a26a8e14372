// Package monitor implements the chain-agnostic transaction monitor.
// A Monitor polls one chain through a Source, runs handler stacks over
// new blocks, transactions and receipts, and dispatches task
// post-processing keyed by the task id carried in a transaction memo.
package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openbridge/dex-middleware/pkg/db"
)

// DecodedTx is the chain-neutral view of one confirmed transaction.
// R is the chain's receipt type for payment-like operations.
type DecodedTx[R any] struct {
	Hash          string
	PagingToken   string
	SourceAccount string
	Envelope      string
	Result        string
	Ledger        int64
	Time          time.Time
	Successful    bool
	Memo          string
	FeePaid       int64

	// Receipts holds the payment-like operations of the transaction.
	Receipts []R
	// OpRows is the persistable form of Receipts.
	OpRows []db.OpReceipt

	// Raw carries chain-specific extras for processors that need more
	// than the neutral view (e.g. claimed offers from a manage-offer
	// result).
	Raw any
}

// TxItem is one transaction as it comes off a source page, with the
// enclosing block when the chain exposes one.
type TxItem[B, T any] struct {
	Block *B
	Tx    T
}

// Source feeds a Monitor with transactions from one chain, in ascending
// confirmation order.
type Source[B, T, R any] interface {
	// Platform names the chain for cursor storage and metrics.
	Platform() db.Platform

	// SeedCursor returns the paging token of the chain tail, used the
	// first time a monitor runs so it only observes new activity.
	SeedCursor(ctx context.Context) (string, error)

	// NextPage returns up to limit transactions strictly after cursor,
	// oldest first. An empty page means the monitor is caught up.
	NextPage(ctx context.Context, cursor string, limit int) ([]TxItem[B, T], error)

	// Transaction fetches a single transaction by its chain-native id.
	// It returns (nil, nil) when the transaction is not (yet) on chain.
	Transaction(ctx context.Context, txID string) (*T, error)

	// Decode converts a raw transaction into the chain-neutral view.
	Decode(ctx context.Context, tx T) (*DecodedTx[R], error)
}

// BlockHandler observes each new block exactly once per poll batch.
// An error aborts the current batch; the cursor is not advanced past
// the last fully handled transaction.
type BlockHandler[B any] func(ctx context.Context, block *B) error

// TxHandler observes each decoded transaction. An error aborts the
// current batch.
type TxHandler[R any] func(ctx context.Context, tx *DecodedTx[R]) error

// ReceiptHandler observes payment-like operations it accepts. An error
// aborts the current batch.
type ReceiptHandler[R any] interface {
	Accepts(receipt R) bool
	Handle(ctx context.Context, tx *DecodedTx[R], receipt R) error
}

// Store is the subset of database operations the monitor needs.
type Store interface {
	GetCursor(ctx context.Context, platform db.Platform) (*db.MonitorCursor, error)
	SaveCursor(ctx context.Context, platform db.Platform, pagingToken string, tokenTime *time.Time) error
	InsertOpReceipts(ctx context.Context, receipts []db.OpReceipt) error
	MonitorLogExists(ctx context.Context, txHash string) (bool, error)
	InsertMonitorLog(ctx context.Context, row *db.TaskMonitorLog) error
	UpdateMonitorLogResult(ctx context.Context, id int64, success bool, errCode, errMessage *string) error
	LatestSentBctxLog(ctx context.Context, bcRefID string) (*db.BctxLog, error)
	MarkBctxReceipt(ctx context.Context, logID int64, bctxID uuid.UUID, success bool, receipt string) error
}
