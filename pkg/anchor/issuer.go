package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
)

// IssuerStore is the persistence surface of the issuance submitter.
type IssuerStore interface {
	ListQueuedBctx(ctx context.Context, platform db.Platform, limit int) ([]db.Bctx, error)
	GetBctx(ctx context.Context, id uuid.UUID) (*db.Bctx, error)
	MarkBctxSent(ctx context.Context, id uuid.UUID, bcRefID string) error
}

// Issuer drains queued primary-ledger issuances: each matched custody
// deposit leaves a QUEUED transfer behind, and the issuer pays it out
// from the asset's issuing account. A transfer is flipped to SENT
// before submission so a crash between the two can never double-issue;
// the chain monitor finalizes it from the receipt.
type Issuer struct {
	store   IssuerStore
	builder Builder
	alarm   alarm.Sink
	logger  *zap.Logger

	channelAccount string
	interval       time.Duration
	batchLimit     int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewIssuer(store IssuerStore, builder Builder, sink alarm.Sink, logger *zap.Logger,
	channelAccount string, interval time.Duration, batchLimit int) *Issuer {
	return &Issuer{
		store:          store,
		builder:        builder,
		alarm:          sink,
		logger:         logger.Named("issuer"),
		channelAccount: channelAccount,
		interval:       interval,
		batchLimit:     batchLimit,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the submission loop.
func (i *Issuer) Start(ctx context.Context) {
	i.logger.Info("Starting issuance submitter",
		zap.Duration("interval", i.interval),
		zap.Int("batch_limit", i.batchLimit))
	i.wg.Add(1)
	go i.run(ctx)
}

// Stop stops the loop and waits for the current batch to finish.
func (i *Issuer) Stop() {
	close(i.stopCh)
	i.wg.Wait()
	i.logger.Info("Issuance submitter stopped")
}

func (i *Issuer) run(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-i.stopCh:
			return
		case <-ticker.C:
			if err := i.tickOnce(ctx); err != nil {
				i.alarm.Error("issuer", err)
			}
		}
	}
}

func (i *Issuer) tickOnce(ctx context.Context) error {
	rows, err := i.store.ListQueuedBctx(ctx, db.PlatformStellarToken, i.batchLimit)
	if err != nil {
		return fmt.Errorf("failed to list queued issuances: %w", err)
	}
	for idx := range rows {
		select {
		case <-i.stopCh:
			return nil
		default:
		}
		if err := i.submitOne(ctx, &rows[idx]); err != nil {
			metrics.BctxSubmittedTotal.WithLabelValues(string(rows[idx].Platform), "error").Inc()
			i.alarm.Error("issuer", err, zap.String("bctx_id", rows[idx].ID.String()))
			continue
		}
		metrics.BctxSubmittedTotal.WithLabelValues(string(rows[idx].Platform), "ok").Inc()
	}
	return nil
}

func (i *Issuer) submitOne(ctx context.Context, row *db.Bctx) error {
	// Re-read the row so a transfer picked up by a concurrent pass is
	// submitted once.
	current, err := i.store.GetBctx(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", row.ID, err)
	}
	if current.Status != db.BctxStatusQueued {
		return nil
	}

	issuerAddr := current.AddressFrom
	assetIssuer := issuerAddr
	if current.PlatformAux != nil {
		assetIssuer = *current.PlatformAux
	}
	memo := ""
	if current.TxAux != nil {
		memo = *current.TxAux
	}

	ops := []stellar.Op{stellar.NewPayment(issuerAddr, current.AddressTo,
		current.Symbol, assetIssuer, current.Amount.String())}
	tx, err := i.builder.Build(ctx, i.channelAccount, memo, ops, issuerAddr)
	if err != nil {
		return fmt.Errorf("failed to build issuance for %s: %w", current.ID, err)
	}

	if err := i.store.MarkBctxSent(ctx, current.ID, tx.Hash); err != nil {
		return fmt.Errorf("failed to mark transfer %s sent: %w", current.ID, err)
	}

	result, err := i.builder.Submit(ctx, tx)
	if err != nil {
		// The transfer stays SENT. The receipt check resolves whether
		// the envelope made it to the ledger before retrying by hand.
		return fmt.Errorf("failed to submit issuance %s (tx %s): %w", current.ID, tx.Hash, err)
	}
	if !result.Successful {
		return fmt.Errorf("issuance %s rejected by ledger: %s", current.ID, result.ResultXdr)
	}

	i.logger.Info("submitted issuance",
		zap.String("bctx_id", current.ID.String()),
		zap.String("tx_hash", tx.Hash),
		zap.String("asset", current.Symbol),
		zap.String("amount", current.Amount.String()),
		zap.String("to", current.AddressTo))
	return nil
}
