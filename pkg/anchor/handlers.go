// Package anchor turns observed deposits to bridge custody addresses
// into matched anchor tasks and queued issuance transfers, and carries
// the de-anchor refund path used by the swap workers.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/chain/evm"
	"github.com/openbridge/dex-middleware/pkg/chain/filecoin"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

// Store is the persistence surface of the deposit matchers.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	FindOpenAnchorTask(ctx context.Context, platform db.Platform, aux *string, holderAddr string) (*db.TaskAnchor, error)
	UpdateAnchorTask(ctx context.Context, task *db.TaskAnchor) error
	EnqueueBctx(ctx context.Context, bctx *db.Bctx) error
}

type pgStore struct{ *db.Store }

// NewPgStore adapts the shared database store to the deposit matchers.
func NewPgStore(s *db.Store) Store { return pgStore{s} }

func (s pgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx *db.Store) error {
		return fn(ctx, pgStore{tx})
	})
}

// deposit is the chain-neutral view of one custody deposit.
type deposit struct {
	platform db.Platform
	aux      *string // contract address / issuer, nil for native
	from     string
	to       string
	ref      string // chain-native reference: tx hash or message cid
	amount   decimal.Decimal
	info     tokenmeta.ManagedInfo
}

// matcher pairs custody deposits with their waiting anchor task and
// queues the primary-ledger issuance in the same database transaction.
type matcher struct {
	store  Store
	sink   alarm.Sink
	logger *zap.Logger
}

func (m *matcher) handle(ctx context.Context, d deposit) error {
	task, err := m.store.FindOpenAnchorTask(ctx, d.platform, d.aux, d.to)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			// A deposit nobody asked for. Keep the batch moving and
			// let operators reconcile it by hand.
			m.sink.Warn("anchor", "unmatched custody deposit",
				zap.String("platform", string(d.platform)),
				zap.String("from", d.from),
				zap.String("to", d.to),
				zap.String("ref", d.ref),
				zap.String("amount", d.amount.String()))
			return nil
		}
		return err
	}
	if task.PrivateAddr != "" && !strings.EqualFold(task.PrivateAddr, d.from) {
		m.sink.Warn("anchor", "custody deposit from unexpected sender",
			zap.String("task_id", task.TaskID),
			zap.String("expected", task.PrivateAddr),
			zap.String("actual", d.from))
		return nil
	}
	if d.amount.LessThan(task.Amount) {
		m.sink.Warn("anchor", "custody deposit below requested amount",
			zap.String("task_id", task.TaskID),
			zap.String("requested", task.Amount.String()),
			zap.String("deposited", d.amount.String()))
		return nil
	}

	issue := &db.Bctx{
		Platform:    db.PlatformStellarToken,
		Symbol:      d.info.AssetCode,
		PlatformAux: &d.info.IssuerAddress,
		AddressFrom: d.info.IssuerAddress,
		AddressTo:   task.TradeAddr,
		Amount:      d.amount,
		TxAux:       &task.TaskID,
	}
	err = m.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if qerr := tx.EnqueueBctx(ctx, issue); qerr != nil {
			return qerr
		}
		task.BcRefID = &d.ref
		task.IssueBctxID = &issue.ID
		return tx.UpdateAnchorTask(ctx, task)
	})
	if err != nil {
		return fmt.Errorf("failed to match custody deposit: %w", err)
	}

	metrics.BctxQueuedTotal.WithLabelValues(string(db.PlatformStellarToken)).Inc()
	m.logger.Info("matched custody deposit",
		zap.String("task_id", task.TaskID),
		zap.String("platform", string(d.platform)),
		zap.String("ref", d.ref),
		zap.String("amount", d.amount.String()))
	return nil
}

// StellarHandler matches primary-ledger deposits to managed holder
// accounts.
type StellarHandler struct {
	tokens *tokenmeta.Registry
	m      matcher
}

func NewStellarHandler(store Store, tokens *tokenmeta.Registry, sink alarm.Sink, logger *zap.Logger) *StellarHandler {
	return &StellarHandler{
		tokens: tokens,
		m:      matcher{store: store, sink: sink, logger: logger.Named("anchor_stellar")},
	}
}

func (h *StellarHandler) Accepts(op stellar.Operation) bool {
	if op.To == "" {
		return false
	}
	_, err := h.tokens.ByHolder(db.PlatformStellar, op.To)
	if err != nil {
		_, err = h.tokens.ByHolder(db.PlatformStellarToken, op.To)
	}
	return err == nil
}

func (h *StellarHandler) Handle(ctx context.Context, tx *monitor.DecodedTx[stellar.Operation], op stellar.Operation) error {
	info, err := h.tokens.ByHolder(db.PlatformStellar, op.To)
	platform := db.PlatformStellar
	if err != nil {
		info, err = h.tokens.ByHolder(db.PlatformStellarToken, op.To)
		platform = db.PlatformStellarToken
	}
	if err != nil {
		return nil
	}
	amount, err := decimal.NewFromString(op.Amount)
	if err != nil {
		return fmt.Errorf("unparseable deposit amount %q: %w", op.Amount, err)
	}
	var aux *string
	if op.AssetIssuer != "" {
		issuer := op.AssetIssuer
		aux = &issuer
	}
	return h.m.handle(ctx, deposit{
		platform: platform,
		aux:      aux,
		from:     op.From,
		to:       op.To,
		ref:      tx.Hash,
		amount:   amount,
		info:     info,
	})
}

// EvmHandler matches deposits on one EVM chain: native transfers to a
// managed holder address and token transfers on watched contracts.
type EvmHandler struct {
	platform db.Platform
	tokens   *tokenmeta.Registry
	m        matcher
}

func NewEvmHandler(platform db.Platform, store Store, tokens *tokenmeta.Registry, sink alarm.Sink, logger *zap.Logger) *EvmHandler {
	return &EvmHandler{
		platform: platform,
		tokens:   tokens,
		m:        matcher{store: store, sink: sink, logger: logger.Named("anchor_" + string(platform))},
	}
}

func (h *EvmHandler) Accepts(d evm.Deposit) bool {
	if d.TxHash == "" {
		return false
	}
	if d.Contract != nil {
		_, err := h.tokens.ByContract(h.platform, *d.Contract)
		return err == nil
	}
	_, err := h.tokens.ByHolder(h.platform, d.To)
	return err == nil
}

func (h *EvmHandler) Handle(ctx context.Context, tx *monitor.DecodedTx[evm.Deposit], d evm.Deposit) error {
	if !d.Successful {
		h.m.sink.Warn("anchor", "ignoring reverted custody deposit",
			zap.String("tx_hash", d.TxHash))
		return nil
	}
	var (
		info     tokenmeta.ManagedInfo
		err      error
		platform = h.platform
		aux      *string
	)
	if d.Contract != nil {
		info, err = h.tokens.ByContract(h.platform, *d.Contract)
		platform = db.PlatformErc20
		contract := *d.Contract
		aux = &contract
	} else {
		info, err = h.tokens.ByHolder(h.platform, d.To)
	}
	if err != nil {
		return nil
	}
	return h.m.handle(ctx, deposit{
		platform: platform,
		aux:      aux,
		from:     d.From,
		to:       d.To,
		ref:      d.TxHash,
		amount:   bigAmount(d.Value, int32(d.Decimals)),
		info:     info,
	})
}

// FilecoinHandler matches FIL value transfers to the managed holder.
type FilecoinHandler struct {
	tokens *tokenmeta.Registry
	m      matcher
}

func NewFilecoinHandler(store Store, tokens *tokenmeta.Registry, sink alarm.Sink, logger *zap.Logger) *FilecoinHandler {
	return &FilecoinHandler{
		tokens: tokens,
		m:      matcher{store: store, sink: sink, logger: logger.Named("anchor_filecoin")},
	}
}

func (h *FilecoinHandler) Accepts(d filecoin.Deposit) bool {
	if d.CID == "" {
		return false
	}
	_, err := h.tokens.ByHolder(db.PlatformFilecoin, d.To)
	return err == nil
}

func (h *FilecoinHandler) Handle(ctx context.Context, tx *monitor.DecodedTx[filecoin.Deposit], d filecoin.Deposit) error {
	if !d.Successful {
		h.m.sink.Warn("anchor", "ignoring failed custody deposit",
			zap.String("cid", d.CID))
		return nil
	}
	info, err := h.tokens.ByHolder(db.PlatformFilecoin, d.To)
	if err != nil {
		return nil
	}
	return h.m.handle(ctx, deposit{
		platform: db.PlatformFilecoin,
		from:     d.From,
		to:       d.To,
		ref:      d.CID,
		amount:   bigAmount(d.Value, 18),
		info:     info,
	})
}

// bigAmount converts a chain-native integer amount into its actual
// decimal value.
func bigAmount(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Shift(-decimals)
}
