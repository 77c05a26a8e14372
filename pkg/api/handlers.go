// Package api exposes the offer orchestration HTTP surface consumed by
// the DEX frontend. Request identity comes from the bearer token; the
// trade address in the token is the only account a caller can act on.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/anchor"
	apperrors "github.com/openbridge/dex-middleware/pkg/app/errors"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/offer"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

const maxBodyBytes = 1 << 20 // 1MB

// OfferService is the subset of the offer orchestration service the
// HTTP handlers call.
type OfferService interface {
	CreateOffer(ctx context.Context, userID int64, isSell bool, req offer.CreateOfferRequest) (*offer.CreateOfferResult, error)
	DeleteOffer(ctx context.Context, userID int64, isSell bool, req offer.DeleteOfferRequest) (*offer.DeleteOfferResult, error)
}

// TaskReader looks up workflow task records for the status endpoint.
type TaskReader interface {
	GetCreateOfferTask(ctx context.Context, taskID string) (*db.TaskCreateOffer, error)
	GetDeleteOfferTask(ctx context.Context, taskID string) (*db.TaskDeleteOffer, error)
}

// AnchorService registers anchor deposit tasks and swap refund tasks.
type AnchorService interface {
	CreateAnchorTask(ctx context.Context, userID int64, req anchor.CreateAnchorRequest) (*db.TaskAnchor, error)
	CreateSwapRefundTask(ctx context.Context, userID int64, req anchor.CreateSwapRefundRequest) (*db.TaskSwap, error)
}

// Handler serves the offer endpoints.
type Handler struct {
	offers   OfferService
	anchors  AnchorService
	tasks    TaskReader
	codec    *taskid.Codec
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(offers OfferService, anchors AnchorService, tasks TaskReader, codec *taskid.Codec, logger *zap.Logger) *Handler {
	return &Handler{
		offers:   offers,
		anchors:  anchors,
		tasks:    tasks,
		codec:    codec,
		validate: validator.New(),
		logger:   logger.Named("api"),
	}
}

// CreateOfferRequest is the POST /v1/offers payload.
type CreateOfferRequest struct {
	Side      string `json:"side" validate:"required,oneof=sell buy"`
	AssetCode string `json:"asset_code" validate:"required,alphanum,max=12"`
	Amount    string `json:"amount" validate:"required"`
	Price     string `json:"price" validate:"required"`
}

// CreateOfferResponse mirrors the workflow outcome.
type CreateOfferResponse struct {
	TaskID       string `json:"task_id"`
	TxHash       string `json:"tx_hash"`
	OfferID      int64  `json:"offer_id"`
	MadeAmount   string `json:"made_amount"`
	PostTxStatus bool   `json:"post_tx_status"`
}

// DeleteOfferResponse mirrors the workflow outcome. Refund fields are
// present only when a buy-side fee refund was queued.
type DeleteOfferResponse struct {
	TaskID          string  `json:"task_id"`
	TxHash          string  `json:"tx_hash"`
	RefundAssetCode *string `json:"refund_asset_code,omitempty"`
	RefundAmount    *string `json:"refund_amount,omitempty"`
}

// CreateAnchorTaskRequest is the POST /v1/anchors payload. The deposit
// is expected from the caller's own external-chain address.
type CreateAnchorTaskRequest struct {
	AssetCode   string `json:"asset_code" validate:"required,alphanum,max=12"`
	Amount      string `json:"amount" validate:"required"`
	PrivateAddr string `json:"private_addr" validate:"required,max=128"`
}

// CreateAnchorTaskResponse tells the caller where to deposit.
type CreateAnchorTaskResponse struct {
	TaskID     string `json:"task_id"`
	HolderAddr string `json:"holder_addr"`
	AssetCode  string `json:"asset_code"`
	Amount     string `json:"amount"`
}

// CreateSwapRefundRequest is the POST /v1/swaps payload.
type CreateSwapRefundRequest struct {
	SourceAssetCode   string `json:"source_asset_code" validate:"required,alphanum,max=12"`
	TargetAssetCode   string `json:"target_asset_code" validate:"required,alphanum,max=12"`
	SourceAmount      string `json:"source_amount" validate:"required"`
	PrivateSourceAddr string `json:"private_source_addr" validate:"required,max=128"`
}

// CreateSwapRefundResponse acknowledges the queued refund.
type CreateSwapRefundResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskStatusResponse is the GET /v1/tasks/{taskID} payload.
type TaskStatusResponse struct {
	TaskID        string  `json:"task_id"`
	TaskType      string  `json:"task_type"`
	TradeAddr     string  `json:"trade_addr"`
	OfferID       int64   `json:"offer_id,omitempty"`
	TxHash        *string `json:"tx_hash,omitempty"`
	PostTxFlag    bool    `json:"post_tx_flag"`
	ErrorPosition *string `json:"error_position,omitempty"`
	ErrorCode     *string `json:"error_code,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

func (h *Handler) createOffer(w http.ResponseWriter, r *http.Request) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "missing identity")
	}

	var req CreateOfferRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return apperrors.BadRequestError(err, "amount must be a positive decimal")
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		return apperrors.BadRequestError(err, "price must be a positive decimal")
	}

	result, err := h.offers.CreateOffer(r.Context(), identity.UserID, req.Side == "sell", offer.CreateOfferRequest{
		TradeAddr: identity.TradeAddr,
		AssetCode: req.AssetCode,
		Amount:    amount,
		Price:     price,
	})
	if err != nil {
		h.logger.Warn("Create offer failed",
			zap.Int64("user_id", identity.UserID),
			zap.String("asset_code", req.AssetCode),
			zap.Error(err),
		)
		return domainError(err)
	}

	return writeJSON(w, http.StatusCreated, &CreateOfferResponse{
		TaskID:       result.TaskID,
		TxHash:       result.TxHash,
		OfferID:      result.OfferID,
		MadeAmount:   result.MadeAmount.String(),
		PostTxStatus: result.PostTxStatus,
	})
}

func (h *Handler) deleteOffer(w http.ResponseWriter, r *http.Request) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "missing identity")
	}

	offerID, err := strconv.ParseInt(chi.URLParam(r, "offerID"), 10, 64)
	if err != nil || offerID <= 0 {
		return apperrors.BadRequestError(err, "invalid offer id")
	}

	side := r.URL.Query().Get("side")
	if side != "sell" && side != "buy" {
		return apperrors.BadRequestError(nil, "side must be sell or buy")
	}

	result, err := h.offers.DeleteOffer(r.Context(), identity.UserID, side == "sell", offer.DeleteOfferRequest{
		TradeAddr: identity.TradeAddr,
		OfferID:   offerID,
	})
	if err != nil {
		h.logger.Warn("Delete offer failed",
			zap.Int64("user_id", identity.UserID),
			zap.Int64("offer_id", offerID),
			zap.Error(err),
		)
		return domainError(err)
	}

	resp := &DeleteOfferResponse{
		TaskID: result.TaskID,
		TxHash: result.TxHash,
	}
	if result.RefundAmount != nil {
		amount := result.RefundAmount.String()
		resp.RefundAssetCode = &result.RefundAssetCode
		resp.RefundAmount = &amount
	}
	return writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createAnchorTask(w http.ResponseWriter, r *http.Request) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "missing identity")
	}

	var req CreateAnchorTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return apperrors.BadRequestError(err, "amount must be a positive decimal")
	}

	task, err := h.anchors.CreateAnchorTask(r.Context(), identity.UserID, anchor.CreateAnchorRequest{
		AssetCode:   req.AssetCode,
		Amount:      amount,
		PrivateAddr: req.PrivateAddr,
		TradeAddr:   identity.TradeAddr,
	})
	if err != nil {
		h.logger.Warn("Create anchor task failed",
			zap.Int64("user_id", identity.UserID),
			zap.String("asset_code", req.AssetCode),
			zap.Error(err),
		)
		return domainError(err)
	}

	return writeJSON(w, http.StatusCreated, &CreateAnchorTaskResponse{
		TaskID:     task.TaskID,
		HolderAddr: task.HolderAddr,
		AssetCode:  task.AssetCode,
		Amount:     task.Amount.String(),
	})
}

func (h *Handler) createSwapRefund(w http.ResponseWriter, r *http.Request) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "missing identity")
	}

	var req CreateSwapRefundRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}
	amount, err := decimal.NewFromString(req.SourceAmount)
	if err != nil || !amount.IsPositive() {
		return apperrors.BadRequestError(err, "source_amount must be a positive decimal")
	}

	task, err := h.anchors.CreateSwapRefundTask(r.Context(), identity.UserID, anchor.CreateSwapRefundRequest{
		SourceAssetCode:   req.SourceAssetCode,
		TargetAssetCode:   req.TargetAssetCode,
		SourceAmount:      amount,
		SwapperAddr:       identity.TradeAddr,
		PrivateSourceAddr: req.PrivateSourceAddr,
	})
	if err != nil {
		h.logger.Warn("Create swap refund failed",
			zap.Int64("user_id", identity.UserID),
			zap.String("source_asset", req.SourceAssetCode),
			zap.Error(err),
		)
		return domainError(err)
	}

	return writeJSON(w, http.StatusCreated, &CreateSwapRefundResponse{
		TaskID: task.TaskID,
		Status: string(task.Status),
	})
}

func (h *Handler) taskStatus(w http.ResponseWriter, r *http.Request) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "missing identity")
	}

	id, err := h.codec.Decode(chi.URLParam(r, "taskID"))
	if err != nil {
		return apperrors.BadRequestError(err, "invalid task id")
	}

	var resp *TaskStatusResponse
	switch id.Type {
	case taskid.TypeOfferCreateSell, taskid.TypeOfferCreateBuy:
		task, err := h.tasks.GetCreateOfferTask(r.Context(), id.ID)
		if err != nil {
			return domainError(err)
		}
		if task.UserID != identity.UserID {
			return apperrors.ResourceNotFoundError(nil, "task not found")
		}
		resp = &TaskStatusResponse{
			TaskID:        task.TaskID,
			TaskType:      task.TaskType,
			TradeAddr:     task.TradeAddr,
			OfferID:       task.OfferID,
			TxHash:        task.TxHash,
			PostTxFlag:    task.PostTxFlag,
			ErrorPosition: task.ErrorPosition,
			ErrorCode:     task.ErrorCode,
			ErrorMessage:  task.ErrorMessage,
		}
	case taskid.TypeOfferDeleteSell, taskid.TypeOfferDeleteBuy:
		task, err := h.tasks.GetDeleteOfferTask(r.Context(), id.ID)
		if err != nil {
			return domainError(err)
		}
		if task.UserID != identity.UserID {
			return apperrors.ResourceNotFoundError(nil, "task not found")
		}
		resp = &TaskStatusResponse{
			TaskID:        task.TaskID,
			TaskType:      task.TaskType,
			TradeAddr:     task.TradeAddr,
			OfferID:       task.OfferID,
			TxHash:        task.TxHash,
			PostTxFlag:    task.TxHash != nil,
			ErrorPosition: task.ErrorPosition,
			ErrorCode:     task.ErrorCode,
			ErrorMessage:  task.ErrorMessage,
		}
	default:
		return apperrors.NotSupportedError(nil, fmt.Sprintf("task type %s has no status view", id.Type))
	}

	return writeJSON(w, http.StatusOK, resp)
}

// domainError maps workflow errors onto HTTP error categories.
func domainError(err error) error {
	switch {
	case errors.Is(err, offer.ErrOfferNotValid):
		return apperrors.ResourceNotFoundError(err, "offer is not open on the ledger")
	case errors.Is(err, offer.ErrNotOfferOwner):
		return apperrors.ForbiddenError(err, "offer belongs to another user")
	case errors.Is(err, offer.ErrOfferTypeMismatch):
		return apperrors.BadRequestError(err, "offer side does not match")
	case errors.Is(err, tokenmeta.ErrAssetNotFound):
		return apperrors.BadRequestError(err, "asset is not managed by the bridge")
	case errors.Is(err, anchor.ErrAmountNotPositive):
		return apperrors.BadRequestError(err, "amount must be positive")
	case errors.Is(err, db.ErrTaskNotFound):
		return apperrors.ResourceNotFoundError(err, "task not found")
	default:
		return apperrors.GeneralError(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
