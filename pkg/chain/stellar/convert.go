package stellar

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// The primary ledger carries amounts as integers scaled by 1e7.
const rawScale = 7

var rawFactor = decimal.New(1, rawScale)

// RawToDecimal converts a raw scale-7 ledger amount to its decimal form.
func RawToDecimal(raw int64) decimal.Decimal {
	return decimal.New(raw, -rawScale)
}

// DecimalToRaw converts a decimal amount to raw scale-7, rejecting
// values that do not fit the ledger precision exactly.
func DecimalToRaw(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(rawFactor)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %s exceeds ledger precision", d)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s overflows raw representation", d)
	}
	return scaled.IntPart(), nil
}

// ParseAmount parses a horizon amount string into raw scale-7.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return DecimalToRaw(d)
}

// FormatAmount renders a raw scale-7 amount as a horizon amount string.
func FormatAmount(raw int64) string {
	return RawToDecimal(raw).StringFixed(rawScale)
}
