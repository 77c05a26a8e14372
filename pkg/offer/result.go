package offer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
)

// ParseOfferResult extracts the on-chain offer id and immediately
// filled amount from a base64 result_xdr. OfferID zero means the offer
// was fully consumed on submission.
func ParseOfferResult(result string) (int64, decimal.Decimal, error) {
	outcome, err := stellar.DecodeTxResult(result)
	if err != nil {
		return 0, decimal.Zero, err
	}
	if outcome.Offer == nil {
		return 0, decimal.Zero, fmt.Errorf("transaction result carries no manage-offer outcome")
	}
	return outcome.Offer.OfferID, stellar.RawToDecimal(outcome.Offer.MadeAmountRaw), nil
}
