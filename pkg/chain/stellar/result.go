package stellar

import (
	"fmt"

	"github.com/stellar/go/xdr"
)

// OfferOutcome is the manage-offer section of a decoded transaction
// result. OfferID is zero when the offer was fully consumed on
// submission and left no resting entry.
type OfferOutcome struct {
	OfferID int64
	// MadeAmountRaw is the sell-asset amount filled immediately on
	// submission, raw scale-7 units.
	MadeAmountRaw int64
}

// ClaimedOffer is one resting offer consumed by a submitted operation.
// Fields are from the maker's perspective: Seller is the account whose
// offer was taken, SoldAssetCode is what that account gave up.
type ClaimedOffer struct {
	OfferID         int64
	Seller          string
	SoldAssetCode   string
	SoldAmountRaw   int64
	BoughtAssetCode string
	BoughtAmountRaw int64
}

// TxOutcome is the offer-relevant view of a transaction result.
// Offer is nil when the transaction carried no manage-offer operation.
type TxOutcome struct {
	Offer   *OfferOutcome
	Claimed []ClaimedOffer
}

// DecodeTxResult decodes a base64 result_xdr as reported by the ledger
// and extracts the outcome of the first manage-offer operation, if any.
func DecodeTxResult(resultXdr string) (*TxOutcome, error) {
	var res xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXdr, &res); err != nil {
		return nil, fmt.Errorf("failed to decode transaction result: %w", err)
	}

	out := &TxOutcome{}
	opResults, ok := res.OperationResults()
	if !ok {
		return out, nil
	}
	for _, opRes := range opResults {
		tr, ok := opRes.GetTr()
		if !ok {
			continue
		}
		success, ok := manageOfferSuccess(tr)
		if !ok {
			continue
		}
		outcome := &OfferOutcome{}
		if entry, ok := success.Offer.GetOffer(); ok {
			outcome.OfferID = int64(entry.OfferId)
		}
		for _, atom := range success.OffersClaimed {
			claimed := claimedFromAtom(atom)
			outcome.MadeAmountRaw += claimed.BoughtAmountRaw
			out.Claimed = append(out.Claimed, claimed)
		}
		out.Offer = outcome
		break
	}
	return out, nil
}

// manageOfferSuccess unwraps the success body of a manage-offer
// operation result, covering both the sell and the buy variant.
func manageOfferSuccess(tr xdr.OperationResultTr) (*xdr.ManageOfferSuccessResult, bool) {
	if sell, ok := tr.GetManageSellOfferResult(); ok {
		if success, ok := sell.GetSuccess(); ok {
			return &success, true
		}
		return nil, false
	}
	if buy, ok := tr.GetManageBuyOfferResult(); ok {
		if success, ok := buy.GetSuccess(); ok {
			return &success, true
		}
	}
	return nil, false
}

func claimedFromAtom(atom xdr.ClaimAtom) ClaimedOffer {
	switch atom.Type {
	case xdr.ClaimAtomTypeClaimAtomTypeOrderBook:
		ob := atom.MustOrderBook()
		return ClaimedOffer{
			OfferID:         int64(ob.OfferId),
			Seller:          ob.SellerId.Address(),
			SoldAssetCode:   assetCodeOf(ob.AssetSold),
			SoldAmountRaw:   int64(ob.AmountSold),
			BoughtAssetCode: assetCodeOf(ob.AssetBought),
			BoughtAmountRaw: int64(ob.AmountBought),
		}
	case xdr.ClaimAtomTypeClaimAtomTypeV0:
		v0 := atom.MustV0()
		ed := v0.SellerEd25519
		seller := xdr.AccountId{
			Type:    xdr.PublicKeyTypePublicKeyTypeEd25519,
			Ed25519: &ed,
		}
		return ClaimedOffer{
			OfferID:         int64(v0.OfferId),
			Seller:          seller.Address(),
			SoldAssetCode:   assetCodeOf(v0.AssetSold),
			SoldAmountRaw:   int64(v0.AmountSold),
			BoughtAssetCode: assetCodeOf(v0.AssetBought),
			BoughtAmountRaw: int64(v0.AmountBought),
		}
	default:
		// Liquidity pool fills have no counterparty account.
		lp := atom.MustLiquidityPool()
		return ClaimedOffer{
			SoldAssetCode:   assetCodeOf(lp.AssetSold),
			SoldAmountRaw:   int64(lp.AmountSold),
			BoughtAssetCode: assetCodeOf(lp.AssetBought),
			BoughtAmountRaw: int64(lp.AmountBought),
		}
	}
}

// assetCodeOf reduces a wire asset to its bridge asset code.
func assetCodeOf(a xdr.Asset) string {
	if a.Type == xdr.AssetTypeAssetTypeNative {
		return "XLM"
	}
	return a.GetCode()
}
