package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Platform identifies a monitored blockchain.
type Platform string

const (
	PlatformStellar      Platform = "stellar"
	PlatformStellarToken Platform = "stellar_token"
	PlatformEthereum     Platform = "ethereum"
	PlatformErc20        Platform = "erc20"
	PlatformLuniverse    Platform = "luniverse"
	PlatformFilecoin     Platform = "filecoin"
)

// BctxStatus is the lifecycle of a queued outbound bridge transaction.
type BctxStatus string

const (
	BctxStatusQueued  BctxStatus = "QUEUED"
	BctxStatusSent    BctxStatus = "SENT"
	BctxStatusSuccess BctxStatus = "SUCCESS"
	BctxStatusFailed  BctxStatus = "FAILED"
)

// SwapStatus is the state machine vocabulary for swap refund tasks.
// REFUND_DEANCHOR_QUEUED is the worker start status;
// REFUND_DEANCHOR_CONFIRMED and REFUND_DEANCHOR_FAILED are terminal.
type SwapStatus string

const (
	SwapStatusRefundQueued    SwapStatus = "REFUND_DEANCHOR_QUEUED"
	SwapStatusRefundRequested SwapStatus = "REFUND_DEANCHOR_REQUESTED"
	SwapStatusRefundSent      SwapStatus = "REFUND_DEANCHOR_SENT"
	SwapStatusRefundTxCatch   SwapStatus = "REFUND_DEANCHOR_TX_CATCH"
	SwapStatusRefundConfirmed SwapStatus = "REFUND_DEANCHOR_CONFIRMED"
	SwapStatusRefundFailed    SwapStatus = "REFUND_DEANCHOR_FAILED"
)

// TaskCreateOffer is one create-offer workflow task.
type TaskCreateOffer struct {
	tableName struct{} `bun:"table:task_create_offer"` // nolint

	ID       int64  `bun:",pk,autoincrement"`
	TaskID   string `bun:"task_id,notnull,unique,type:varchar(24)"`
	UserID   int64  `bun:"user_id,notnull"`
	TaskType string `bun:"task_type,notnull,type:varchar(32)"`

	TradeAddr     string `bun:"trade_addr,notnull"`
	SellAssetCode string `bun:"sell_asset_code,notnull,type:varchar(12)"`
	BuyAssetCode  string `bun:"buy_asset_code,notnull,type:varchar(12)"`

	Amount decimal.Decimal `bun:"amount,notnull,type:numeric(38,18)"`
	Price  decimal.Decimal `bun:"price,notnull,type:numeric(38,18)"`

	SellAmount       decimal.Decimal `bun:"sell_amount,type:numeric(38,18)"`
	BuyAmount        decimal.Decimal `bun:"buy_amount,type:numeric(38,18)"`
	FeeAssetCode     string          `bun:"fee_asset_code,type:varchar(12)"`
	FeeAmount        decimal.Decimal `bun:"fee_amount,type:numeric(38,18)"`
	FeeCollectorAddr string          `bun:"fee_collector_addr"`

	RebalanceTxHash *string `bun:"rebalance_tx_hash,type:varchar(66)"`

	TxSeq  int64   `bun:"tx_seq"`
	TxHash *string `bun:"tx_hash,type:varchar(66)"`
	TxEnv  *string `bun:"tx_envelope"`

	OfferID    int64           `bun:"offer_id"`
	MadeAmount decimal.Decimal `bun:"made_amount,type:numeric(38,18)"`

	PostTxFlag        bool `bun:"post_tx_flag,notnull,default:false"`
	SignedTxCatchFlag bool `bun:"signed_tx_catch_flag,notnull,default:false"`

	ErrorPosition *string `bun:"error_position"`
	ErrorCode     *string `bun:"error_code"`
	ErrorMessage  *string `bun:"error_message"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// TaskDeleteOffer is one delete-offer workflow task.
type TaskDeleteOffer struct {
	tableName struct{} `bun:"table:task_delete_offer"` // nolint

	ID       int64  `bun:",pk,autoincrement"`
	TaskID   string `bun:"task_id,notnull,unique,type:varchar(24)"`
	UserID   int64  `bun:"user_id,notnull"`
	TaskType string `bun:"task_type,notnull,type:varchar(32)"`

	TradeAddr     string `bun:"trade_addr,notnull"`
	OfferID       int64  `bun:"offer_id,notnull"`
	SellAssetCode string `bun:"sell_asset_code,notnull,type:varchar(12)"`
	BuyAssetCode  string `bun:"buy_asset_code,notnull,type:varchar(12)"`

	Price             decimal.Decimal `bun:"price,notnull,type:numeric(38,18)"`
	CreateOfferTaskID string          `bun:"create_offer_task_id,type:varchar(24)"`
	RemainAmount      decimal.Decimal `bun:"remain_amount,type:numeric(38,18)"`

	RefundAssetCode *string          `bun:"refund_asset_code,type:varchar(12)"`
	RefundAmount    *decimal.Decimal `bun:"refund_amount,type:numeric(38,18)"`

	TxSeq  int64   `bun:"tx_seq"`
	TxHash *string `bun:"tx_hash,type:varchar(66)"`
	TxEnv  *string `bun:"tx_envelope"`

	ErrorPosition *string `bun:"error_position"`
	ErrorCode     *string `bun:"error_code"`
	ErrorMessage  *string `bun:"error_message"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// TaskSwap is one swap refund task driven by the worker state machine.
type TaskSwap struct {
	tableName struct{} `bun:"table:task_swap"` // nolint

	ID     int64      `bun:",pk,autoincrement"`
	TaskID string     `bun:"task_id,notnull,unique,type:varchar(24)"`
	UserID int64      `bun:"user_id,notnull"`
	Status SwapStatus `bun:"status,notnull,type:varchar(40)"`

	SourceAssetCode string `bun:"source_asset_code,notnull,type:varchar(12)"`
	TargetAssetCode string `bun:"target_asset_code,notnull,type:varchar(12)"`
	SourceAmountRaw int64  `bun:"source_amount_raw,notnull"`

	SwapperAddr       string `bun:"swapper_addr,notnull"`
	PrivateSourceAddr string `bun:"private_source_addr,notnull"`

	RefundFlag bool `bun:"refund_flag,notnull,default:false"`

	DeancTaskID     *string `bun:"deanc_task_id,type:varchar(24)"`
	DeancTxSeq      int64   `bun:"deanc_tx_seq"`
	DeancTxHash     *string `bun:"deanc_tx_hash,type:varchar(66)"`
	DeancTxEnvelope *string `bun:"deanc_tx_envelope"`
	DeancTxResult   *string `bun:"deanc_tx_result"`
	DeancRetryCount int     `bun:"deanc_retry_count,notnull,use_zero,default:0"`

	ScheduleTimestamp *time.Time `bun:"schedule_timestamp"`
	FinishFlag        bool       `bun:"finish_flag,notnull,default:false"`

	ErrorPosition *string `bun:"error_position"`
	ErrorCode     *string `bun:"error_code"`
	ErrorMessage  *string `bun:"error_message"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// TaskAnchor is one anchor (inbound value) task waiting for its deposit to
// be observed on an external chain.
type TaskAnchor struct {
	tableName struct{} `bun:"table:task_anchor"` // nolint

	ID       int64    `bun:",pk,autoincrement"`
	TaskID   string   `bun:"task_id,notnull,unique,type:varchar(24)"`
	UserID   int64    `bun:"user_id,notnull"`
	Platform Platform `bun:"platform,notnull,type:varchar(20)"`

	// PlatformAux disambiguates token deposits: contract address on EVM
	// chains, issuer account on Stellar.
	PlatformAux *string `bun:"platform_aux"`

	AssetCode string          `bun:"asset_code,notnull,type:varchar(12)"`
	Amount    decimal.Decimal `bun:"amount,notnull,type:numeric(38,18)"`

	PrivateAddr string `bun:"private_addr,notnull"`
	HolderAddr  string `bun:"holder_addr,notnull"`
	TradeAddr   string `bun:"trade_addr,notnull"`

	BcRefID     *string    `bun:"bc_ref_id,type:varchar(128)"`
	IssueBctxID *uuid.UUID `bun:"issue_bctx_id,type:uuid"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// TaskOfferSellFee is a compensating fee-collection task enqueued when an
// order match against the pivot asset is observed for a sell offer.
type TaskOfferSellFee struct {
	tableName struct{} `bun:"table:task_offer_sell_fee"` // nolint

	ID          int64  `bun:",pk,autoincrement"`
	TaskID      string `bun:"task_id,notnull,unique,type:varchar(24)"`
	OfferTxHash string `bun:"offer_tx_hash,notnull,type:varchar(128)"`
	OfferID     int64  `bun:"offer_id,notnull"`

	TradeAddr      string `bun:"trade_addr,notnull"`
	BuyerTradeAddr string `bun:"buyer_trade_addr,notnull"`

	SoldAssetCode   string          `bun:"sold_asset_code,notnull,type:varchar(12)"`
	SoldAmount      decimal.Decimal `bun:"sold_amount,notnull,type:numeric(38,18)"`
	BoughtAssetCode string          `bun:"bought_asset_code,notnull,type:varchar(12)"`
	BoughtAmount    decimal.Decimal `bun:"bought_amount,notnull,type:numeric(38,18)"`

	TxStatus BctxStatus `bun:"tx_status,notnull,type:varchar(10)"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// TaskFeeRefund is a pro-rata fee refund owed after a buy offer is
// cancelled. Attempts are recorded in TaskFeeRefundLog.
type TaskFeeRefund struct {
	tableName struct{} `bun:"table:task_fee_refund"` // nolint

	ID     int64  `bun:",pk,autoincrement"`
	TaskID string `bun:"task_id,notnull,unique,type:varchar(24)"`

	RefundAssetCode   string `bun:"refund_asset_code,notnull,type:varchar(12)"`
	RefundAmountRaw   int64  `bun:"refund_amount_raw,notnull"`
	FeeCollectAccount string `bun:"fee_collect_account,notnull"`
	RefundAccount     string `bun:"refund_account,notnull"`

	CheckedFlag bool `bun:"checked_flag,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// TaskFeeRefundLog is the append-only per-attempt log of a fee refund.
type TaskFeeRefundLog struct {
	tableName struct{} `bun:"table:task_fee_refund_log"` // nolint

	ID      int64  `bun:",pk,autoincrement"`
	TaskID  string `bun:"task_id,notnull,type:varchar(24)"`
	TrialNo int    `bun:"trial_no,notnull,use_zero"`

	TxSeq  int64   `bun:"tx_seq"`
	TxHash *string `bun:"tx_hash,type:varchar(66)"`
	TxEnv  *string `bun:"tx_envelope"`

	TxResult    *string `bun:"tx_result"`
	SuccessFlag bool    `bun:"success_flag,notnull,default:false"`

	ErrorPosition *string `bun:"error_position"`
	ErrorCode     *string `bun:"error_code"`
	ErrorMessage  *string `bun:"error_message"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// Bctx is a queued outbound chain transfer created as a side effect of
// receipt handling (e.g. mint a wrapped asset after a deposit).
type Bctx struct {
	tableName struct{} `bun:"table:bctx"` // nolint

	ID       uuid.UUID `bun:"id,pk,type:uuid"`
	Platform Platform  `bun:"platform,notnull,type:varchar(20)"`
	Symbol   string    `bun:"symbol,notnull,type:varchar(12)"`

	PlatformAux *string `bun:"platform_aux"`

	AddressFrom string          `bun:"address_from,notnull"`
	AddressTo   string          `bun:"address_to,notnull"`
	Amount      decimal.Decimal `bun:"amount,notnull,type:numeric(38,18)"`
	NetFee      decimal.Decimal `bun:"net_fee,notnull,type:numeric(38,18)"`

	// TxAux correlates the transfer back to the originating task.
	TxAux *string `bun:"tx_aux,type:varchar(24)"`

	Status BctxStatus `bun:"status,notnull,type:varchar(10)"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// BctxLog is one submission attempt of a Bctx. BcRefID is the chain-native
// reference (tx hash) used to correlate the receipt back.
type BctxLog struct {
	tableName struct{} `bun:"table:bctx_log"` // nolint

	ID     int64      `bun:",pk,autoincrement"`
	BctxID uuid.UUID  `bun:"bctx_id,notnull,type:uuid"`
	Status BctxStatus `bun:"status,notnull,type:varchar(10)"`

	BcRefID   *string `bun:"bc_ref_id,type:varchar(128)"`
	TxReceipt *string `bun:"tx_receipt"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// TaskMonitorLog records every polled transaction whose memo decoded to a
// known task id. The unique tx hash is the idempotency key for task
// post-processing.
type TaskMonitorLog struct {
	tableName struct{} `bun:"table:task_monitor_log"` // nolint

	ID         int64  `bun:",pk,autoincrement"`
	TxHash     string `bun:"tx_hash,notnull,unique,type:varchar(128)"`
	MemoTaskID string `bun:"memo_task_id,notnull,type:varchar(24)"`
	TaskType   string `bun:"task_type,notnull,type:varchar(32)"`

	Ledger        int64  `bun:"ledger"`
	PagingToken   string `bun:"paging_token"`
	SourceAccount string `bun:"source_account"`
	Envelope      string `bun:"envelope"`
	Result        string `bun:"result"`
	FeePaid       int64  `bun:"fee_paid"`

	ProcessSuccess bool    `bun:"process_success,notnull,default:false"`
	ErrorCode      *string `bun:"error_code"`
	ErrorMessage   *string `bun:"error_message"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// MonitorCursor is the persisted paging position of one chain monitor.
type MonitorCursor struct {
	tableName struct{} `bun:"table:monitor_cursor"` // nolint

	Platform       Platform   `bun:"platform,pk,type:varchar(20)"`
	PagingToken    string     `bun:"paging_token,notnull"`
	TokenTimestamp *time.Time `bun:"token_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// OpReceipt is the append-only operation log row written for every
// payment-like operation observed during polling. The (tx_hash, op_index)
// key makes re-insertion after a batch retry a no-op.
type OpReceipt struct {
	tableName struct{} `bun:"table:op_receipt"` // nolint

	TxHash  string `bun:"tx_hash,pk,type:varchar(128)"`
	OpIndex int    `bun:"op_index,pk,use_zero"`

	Platform Platform `bun:"platform,notnull,type:varchar(20)"`
	Status   string   `bun:"status,notnull,type:varchar(10)"`

	From        string  `bun:"from_addr,notnull"`
	To          string  `bun:"to_addr,notnull"`
	AssetCode   string  `bun:"asset_code,notnull,type:varchar(12)"`
	AssetIssuer *string `bun:"asset_issuer"`
	AmountRaw   int64   `bun:"amount_raw,notnull"`

	MemoTaskID *string   `bun:"memo_task_id,type:varchar(24)"`
	Timestamp  time.Time `bun:"ts,notnull"`
}
