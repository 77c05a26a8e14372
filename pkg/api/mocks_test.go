package api

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openbridge/dex-middleware/pkg/anchor"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/offer"
)

// MockOfferService implements OfferService with overridable funcs.
type MockOfferService struct {
	CreateOfferFunc func(ctx context.Context, userID int64, isSell bool, req offer.CreateOfferRequest) (*offer.CreateOfferResult, error)
	DeleteOfferFunc func(ctx context.Context, userID int64, isSell bool, req offer.DeleteOfferRequest) (*offer.DeleteOfferResult, error)

	createCalls []createCall
	deleteCalls []deleteCall
}

type createCall struct {
	userID int64
	isSell bool
	req    offer.CreateOfferRequest
}

type deleteCall struct {
	userID int64
	isSell bool
	req    offer.DeleteOfferRequest
}

func (m *MockOfferService) CreateOffer(ctx context.Context, userID int64, isSell bool, req offer.CreateOfferRequest) (*offer.CreateOfferResult, error) {
	m.createCalls = append(m.createCalls, createCall{userID, isSell, req})
	if m.CreateOfferFunc != nil {
		return m.CreateOfferFunc(ctx, userID, isSell, req)
	}
	return &offer.CreateOfferResult{
		TaskID:       "DEXBRGS0000000000MOCK001",
		TxHash:       "hash-create",
		OfferID:      42,
		MadeAmount:   decimal.Zero,
		PostTxStatus: true,
	}, nil
}

func (m *MockOfferService) DeleteOffer(ctx context.Context, userID int64, isSell bool, req offer.DeleteOfferRequest) (*offer.DeleteOfferResult, error) {
	m.deleteCalls = append(m.deleteCalls, deleteCall{userID, isSell, req})
	if m.DeleteOfferFunc != nil {
		return m.DeleteOfferFunc(ctx, userID, isSell, req)
	}
	return &offer.DeleteOfferResult{
		TaskID: "DEXBRGs0000000000MOCK001",
		TxHash: "hash-delete",
	}, nil
}

// MockAnchorService implements AnchorService with overridable funcs.
type MockAnchorService struct {
	CreateAnchorTaskFunc     func(ctx context.Context, userID int64, req anchor.CreateAnchorRequest) (*db.TaskAnchor, error)
	CreateSwapRefundTaskFunc func(ctx context.Context, userID int64, req anchor.CreateSwapRefundRequest) (*db.TaskSwap, error)

	anchorCalls []anchorCall
	swapCalls   []swapCall
}

type anchorCall struct {
	userID int64
	req    anchor.CreateAnchorRequest
}

type swapCall struct {
	userID int64
	req    anchor.CreateSwapRefundRequest
}

func (m *MockAnchorService) CreateAnchorTask(ctx context.Context, userID int64, req anchor.CreateAnchorRequest) (*db.TaskAnchor, error) {
	m.anchorCalls = append(m.anchorCalls, anchorCall{userID, req})
	if m.CreateAnchorTaskFunc != nil {
		return m.CreateAnchorTaskFunc(ctx, userID, req)
	}
	return &db.TaskAnchor{
		TaskID:     "DEXBRGA0000000000MOCK001",
		UserID:     userID,
		Platform:   db.PlatformEthereum,
		AssetCode:  req.AssetCode,
		Amount:     req.Amount,
		HolderAddr: "0xHOLDER",
		TradeAddr:  req.TradeAddr,
	}, nil
}

func (m *MockAnchorService) CreateSwapRefundTask(ctx context.Context, userID int64, req anchor.CreateSwapRefundRequest) (*db.TaskSwap, error) {
	m.swapCalls = append(m.swapCalls, swapCall{userID, req})
	if m.CreateSwapRefundTaskFunc != nil {
		return m.CreateSwapRefundTaskFunc(ctx, userID, req)
	}
	return &db.TaskSwap{
		TaskID:          "DEXBRGW0000000000MOCK001",
		UserID:          userID,
		Status:          db.SwapStatusRefundQueued,
		SourceAssetCode: req.SourceAssetCode,
		TargetAssetCode: req.TargetAssetCode,
		SwapperAddr:     req.SwapperAddr,
		RefundFlag:      true,
	}, nil
}

// MockTaskReader implements TaskReader over in-memory maps.
type MockTaskReader struct {
	createTasks map[string]*db.TaskCreateOffer
	deleteTasks map[string]*db.TaskDeleteOffer
}

func NewMockTaskReader() *MockTaskReader {
	return &MockTaskReader{
		createTasks: make(map[string]*db.TaskCreateOffer),
		deleteTasks: make(map[string]*db.TaskDeleteOffer),
	}
}

func (m *MockTaskReader) GetCreateOfferTask(_ context.Context, taskID string) (*db.TaskCreateOffer, error) {
	if task, ok := m.createTasks[taskID]; ok {
		return task, nil
	}
	return nil, db.ErrTaskNotFound
}

func (m *MockTaskReader) GetDeleteOfferTask(_ context.Context, taskID string) (*db.TaskDeleteOffer, error) {
	if task, ok := m.deleteTasks[taskID]; ok {
		return task, nil
	}
	return nil, db.ErrTaskNotFound
}
