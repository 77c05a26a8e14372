package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOfferResult(t *testing.T) {
	offerID, made, err := ParseOfferResult(encodeOfferResult(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), offerID)
	assert.True(t, made.IsZero())
}

func TestParseOfferResultWithoutOfferOp(t *testing.T) {
	// A successful single-payment transaction result.
	const paymentResult = "AAAAAAAAAGQAAAAAAAAAAQAAAAAAAAABAAAAAAAAAAA="
	_, _, err := ParseOfferResult(paymentResult)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manage-offer outcome")
}
