package stellar

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawToDecimalRoundTrip(t *testing.T) {
	for _, raw := range []int64{0, 1, 10_000_000, 123_456_789, -5_0000000} {
		d := RawToDecimal(raw)
		back, err := DecimalToRaw(d)
		require.NoError(t, err)
		assert.Equal(t, raw, back)
	}
}

func TestDecimalToRawRejectsExcessPrecision(t *testing.T) {
	d := decimal.RequireFromString("0.00000001") // scale 8
	_, err := DecimalToRaw(d)
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	raw, err := ParseAmount("12.3456789")
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), raw)

	_, err = ParseAmount("not-a-number")
	require.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.0000000", FormatAmount(10_000_000))
	assert.Equal(t, "0.0000003", FormatAmount(3))
}
