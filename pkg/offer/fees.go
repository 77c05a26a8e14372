package offer

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FeeSplit is the fee outcome computed for a create-offer request.
// Prepaid fees are charged up front as a payment in the fee asset;
// deferred fees are collected later, when the monitor observes a match.
type FeeSplit struct {
	SellAmount decimal.Decimal
	BuyAmount  decimal.Decimal

	FeeAssetCode string
	FeeAmount    decimal.Decimal
	Prepaid      bool
}

// FeeCalculator prices trading fees. All fees are denominated in the
// pivot asset: buy offers spend the pivot and prepay, sell offers earn
// the pivot and pay on match.
type FeeCalculator struct {
	rateBuy       decimal.Decimal
	rateSell      decimal.Decimal
	pivotCode     string
	collectorAddr string
}

func NewFeeCalculator(rateBuy, rateSell, pivotCode, collectorAddr string) (*FeeCalculator, error) {
	rb, err := decimal.NewFromString(rateBuy)
	if err != nil {
		return nil, fmt.Errorf("invalid buy fee rate %q: %w", rateBuy, err)
	}
	rs, err := decimal.NewFromString(rateSell)
	if err != nil {
		return nil, fmt.Errorf("invalid sell fee rate %q: %w", rateSell, err)
	}
	if rb.IsNegative() || rs.IsNegative() {
		return nil, fmt.Errorf("fee rates must not be negative")
	}
	return &FeeCalculator{
		rateBuy:       rb,
		rateSell:      rs,
		pivotCode:     pivotCode,
		collectorAddr: collectorAddr,
	}, nil
}

// CollectorAddr returns the account fees are paid to.
func (f *FeeCalculator) CollectorAddr() string { return f.collectorAddr }

// SellFee prices the deferred fee on a matched sell, applied to the
// pivot amount the seller received.
func (f *FeeCalculator) SellFee(boughtPivot decimal.Decimal) decimal.Decimal {
	return boughtPivot.Mul(f.rateSell).RoundDown(7)
}

// ForCreate computes the sell/buy legs and the fee for a create-offer
// request. amount is denominated in the traded (non-pivot) asset and
// price is its pivot price.
func (f *FeeCalculator) ForCreate(isSell bool, amount, price decimal.Decimal) (FeeSplit, error) {
	if !amount.IsPositive() {
		return FeeSplit{}, fmt.Errorf("offer amount must be positive")
	}
	if !price.IsPositive() {
		return FeeSplit{}, fmt.Errorf("offer price must be positive")
	}
	pivotLeg := amount.Mul(price).RoundDown(7)
	if !pivotLeg.IsPositive() {
		return FeeSplit{}, fmt.Errorf("offer is below the minimum tradable size")
	}

	if isSell {
		// Seller earns the pivot; fee is taken from the proceeds
		// once a match is observed.
		return FeeSplit{
			SellAmount:   amount,
			BuyAmount:    pivotLeg,
			FeeAssetCode: f.pivotCode,
			FeeAmount:    f.SellFee(pivotLeg),
			Prepaid:      false,
		}, nil
	}
	// Buyer spends the pivot; fee is prepaid on the spent amount.
	return FeeSplit{
		SellAmount:   pivotLeg,
		BuyAmount:    amount,
		FeeAssetCode: f.pivotCode,
		FeeAmount:    pivotLeg.Mul(f.rateBuy).RoundDown(7),
		Prepaid:      true,
	}, nil
}

// ProRataRefund computes the refundable share of a prepaid fee after a
// partial fill: fee * remaining / originalSell, floor-rounded. All
// arguments are raw scale-7 amounts. A non-positive result means no
// refund is due.
func ProRataRefund(feeRaw, remainRaw, sellRaw int64) int64 {
	if feeRaw <= 0 || remainRaw <= 0 || sellRaw <= 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(feeRaw), big.NewInt(remainRaw))
	n.Quo(n, big.NewInt(sellRaw))
	if !n.IsInt64() {
		return 0
	}
	return n.Int64()
}
