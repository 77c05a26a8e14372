package offer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/internal/metrics"
	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

const refundBatchSize = 20

// FeeRefundService pays out queued fee refunds. Each sweep picks up
// unchecked refund rows, builds a payment from the fee collector back
// to the trade wallet co-signed by the fee-holder identity, and logs
// the attempt. A row is retired after a successful payment or after
// the attempt budget is spent.
type FeeRefundService struct {
	store  Store
	ledger Ledger
	tokens *tokenmeta.Registry
	sink   alarm.Sink
	logger *zap.Logger

	channelAccount   string
	feeHolderAccount string
	maxRetries       int
	interval         time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewFeeRefundService(store Store, ledger Ledger, tokens *tokenmeta.Registry, sink alarm.Sink,
	logger *zap.Logger, channelAccount, feeHolderAccount string, maxRetries int, interval time.Duration) *FeeRefundService {
	return &FeeRefundService{
		store:            store,
		ledger:           ledger,
		tokens:           tokens,
		sink:             sink,
		logger:           logger.Named("fee_refund"),
		channelAccount:   channelAccount,
		feeHolderAccount: feeHolderAccount,
		maxRetries:       maxRetries,
		interval:         interval,
		stopCh:           make(chan struct{}),
	}
}

func (s *FeeRefundService) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *FeeRefundService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *FeeRefundService) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(context.Background())
		}
	}
}

func (s *FeeRefundService) sweep(ctx context.Context) {
	rows, err := s.store.ListUncheckedFeeRefunds(ctx, refundBatchSize)
	if err != nil {
		s.sink.Error("fee_refund", err)
		return
	}
	for _, row := range rows {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.process(ctx, row)
	}
}

func (s *FeeRefundService) process(ctx context.Context, row db.TaskFeeRefund) {
	attempts, err := s.store.CountFeeRefundAttempts(ctx, row.TaskID)
	if err != nil {
		s.sink.Error("fee_refund", err)
		return
	}
	if attempts > s.maxRetries {
		// Budget spent. Retire the row so the sweep stops picking it
		// up; the attempt log keeps the audit trail.
		s.sink.Warn("fee_refund", "fee refund abandoned after max attempts",
			zap.String("task_id", row.TaskID), zap.Int("attempts", attempts))
		if err := s.store.MarkFeeRefundChecked(ctx, row.TaskID); err != nil {
			s.sink.Error("fee_refund", err)
		}
		metrics.ErrorsTotal.WithLabelValues("fee_refund", "abandoned").Inc()
		return
	}

	trial := attempts + 1
	log := &db.TaskFeeRefundLog{TaskID: row.TaskID, TrialNo: trial}
	err = s.attempt(ctx, row, log)
	log.SuccessFlag = err == nil
	if err != nil {
		code := errorCode(err)
		msg := err.Error()
		log.ErrorCode = &code
		log.ErrorMessage = &msg
		s.logger.Warn("fee refund attempt failed",
			zap.String("task_id", row.TaskID), zap.Int("trial", trial), zap.Error(err))
	}

	perr := s.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if ierr := tx.InsertFeeRefundLog(ctx, log); ierr != nil {
			return ierr
		}
		if log.SuccessFlag {
			return tx.MarkFeeRefundChecked(ctx, row.TaskID)
		}
		return nil
	})
	if perr != nil {
		s.sink.Error("fee_refund", perr)
		return
	}
	if log.SuccessFlag {
		s.logger.Info("fee refund paid",
			zap.String("task_id", row.TaskID),
			zap.String("refund_account", row.RefundAccount),
			zap.Int64("amount_raw", row.RefundAmountRaw))
	}
}

// attempt builds and submits one refund payment, recording the built
// transaction on the log row as it goes.
func (s *FeeRefundService) attempt(ctx context.Context, row db.TaskFeeRefund, log *db.TaskFeeRefundLog) error {
	issuer := ""
	if row.RefundAssetCode != "XLM" {
		info, err := s.tokens.Get(row.RefundAssetCode)
		if err != nil {
			pos := "build_tx"
			log.ErrorPosition = &pos
			return err
		}
		issuer = info.IssuerAddress
	}

	pay := stellar.NewPayment(row.FeeCollectAccount, row.RefundAccount,
		row.RefundAssetCode, issuer, stellar.FormatAmount(row.RefundAmountRaw))
	tx, err := s.ledger.Build(ctx, s.channelAccount, row.TaskID, []stellar.Op{pay}, s.feeHolderAccount)
	if err != nil {
		pos := "build_tx"
		log.ErrorPosition = &pos
		return err
	}
	log.TxSeq = tx.Seq
	log.TxHash = &tx.Hash
	log.TxEnv = &tx.Envelope

	result, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		pos := "submit_tx"
		log.ErrorPosition = &pos
		return err
	}
	log.TxResult = &result.ResultXdr
	if !result.Successful {
		pos := "submit_tx"
		log.ErrorPosition = &pos
		return errSubmissionRejected(result.ResultXdr)
	}
	return nil
}

type errSubmissionRejected string

func (e errSubmissionRejected) Error() string {
	return "transaction rejected: " + string(e)
}
