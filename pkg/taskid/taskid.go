// Package taskid implements the checksummed task identifier embedded in
// on-chain memo fields. An encoded id is exactly 24 characters:
//
//	DEXBRG . type code . 7 random chars . 8 timestamp chars . 2 hex parity chars
//
// The timestamp segment encodes the creation time (unix millis) in the
// codec alphabet, right-aligned and left-padded with '-'. The parity byte
// is the XOR of the first 22 bytes, rendered as two lowercase hex chars.
// Any component that later observes only the raw memo string can recover
// type and issuance time without a database lookup, and reject corrupted
// or foreign memos cheaply.
package taskid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	marker = "DEXBRG"

	// EncodedLength is the full length of an encoded task id.
	EncodedLength = 24

	randomLen    = 7
	timestampLen = 8
	padding      = '-'

	// DefaultAlphabet is the symbol table used by the package-level codec.
	DefaultAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// ErrIntegrity is returned when a string fails the task id integrity check.
var ErrIntegrity = errors.New("task id integrity check failed")

// Type identifies the business operation a task id authorizes.
// The byte value is the single type code embedded in the encoded id.
type Type byte

const (
	TypeOfferCreateSell Type = 'S'
	TypeOfferCreateBuy  Type = 'B'
	TypeOfferDeleteSell Type = 's'
	TypeOfferDeleteBuy  Type = 'b'
	TypeOfferSellFee    Type = 'F'
	TypeOfferRefundFee  Type = 'R'
	TypeAnchor          Type = 'A'
	TypeDeanchor        Type = 'D'
	TypeSwap            Type = 'W'
	TypeSwapRefund      Type = 'w'
)

var typeNames = map[Type]string{
	TypeOfferCreateSell: "OFFER_CREATE_SELL",
	TypeOfferCreateBuy:  "OFFER_CREATE_BUY",
	TypeOfferDeleteSell: "OFFER_DELETE_SELL",
	TypeOfferDeleteBuy:  "OFFER_DELETE_BUY",
	TypeOfferSellFee:    "OFFER_CREATE_SELL_FEE",
	TypeOfferRefundFee:  "OFFER_REFUND_FEE",
	TypeAnchor:          "ANCHOR",
	TypeDeanchor:        "DEANCHOR",
	TypeSwap:            "SWAP",
	TypeSwapRefund:      "SWAP_REFUND",
}

// Valid reports whether t is a recognized task type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%q)", byte(t))
}

// TaskId is the decoded form of an on-chain task identifier. Values are
// immutable once generated; ID is the full 24-char encoded string.
type TaskId struct {
	Type      Type
	ID        string
	Timestamp int64 // unix millis at generation
}

func (t TaskId) String() string {
	return fmt.Sprintf("%s[%s]", t.Type, t.ID)
}

// Codec generates and validates task ids over a fixed symbol alphabet.
// The alphabet must match between the generating and decoding side; it is
// part of the deployment configuration, not the wire format.
type Codec struct {
	symbols string
	index   map[byte]int64
}

// NewCodec builds a codec over the given alphabet. The alphabet must have
// at least two symbols, contain no duplicates and not contain the padding
// character.
func NewCodec(alphabet string) (*Codec, error) {
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("taskid: alphabet too short (%d symbols)", len(alphabet))
	}
	if strings.ContainsRune(alphabet, padding) {
		return nil, fmt.Errorf("taskid: alphabet must not contain padding character %q", padding)
	}
	index := make(map[byte]int64, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		if _, dup := index[alphabet[i]]; dup {
			return nil, fmt.Errorf("taskid: duplicate symbol %q in alphabet", alphabet[i])
		}
		index[alphabet[i]] = int64(i)
	}
	return &Codec{symbols: alphabet, index: index}, nil
}

// Generate creates a new task id of the given type stamped with the
// current time.
func (c *Codec) Generate(t Type) TaskId {
	return c.generateAt(t, time.Now().UnixMilli())
}

func (c *Codec) generateAt(t Type, millis int64) TaskId {
	var sb strings.Builder
	sb.Grow(EncodedLength)
	sb.WriteString(marker)
	sb.WriteByte(byte(t))

	for i := 0; i < randomLen; i++ {
		sb.WriteByte(c.symbols[randIndex(len(c.symbols))])
	}

	// timestamp, base len(symbols), right-aligned, '-' padded
	var ts [timestampLen]byte
	num := millis
	for i := timestampLen - 1; i >= 0; i-- {
		if num != 0 {
			ts[i] = c.symbols[num%int64(len(c.symbols))]
			num /= int64(len(c.symbols))
		} else {
			ts[i] = padding
		}
	}
	sb.Write(ts[:])

	head := sb.String()
	return TaskId{Type: t, ID: head + parityHex(head), Timestamp: millis}
}

// Decode validates s and recovers the embedded type and timestamp. It
// fails with ErrIntegrity when the length, marker, type code or parity
// byte does not check out.
func (c *Codec) Decode(s string) (TaskId, error) {
	if len(s) != EncodedLength {
		return TaskId{}, integrityErr(s)
	}
	if s[:len(marker)] != marker {
		return TaskId{}, integrityErr(s)
	}

	t := Type(s[len(marker)])
	if !t.Valid() {
		return TaskId{}, integrityErr(s)
	}

	head := s[:EncodedLength-2]
	if parityHex(head) != strings.ToLower(s[EncodedLength-2:]) {
		return TaskId{}, integrityErr(s)
	}

	var millis int64
	for i := EncodedLength - 2 - timestampLen; i < EncodedLength-2; i++ {
		ch := s[i]
		if ch == padding {
			continue
		}
		v, ok := c.index[ch]
		if !ok {
			return TaskId{}, integrityErr(s)
		}
		millis = millis*int64(len(c.symbols)) + v
		if millis < 0 {
			return TaskId{}, integrityErr(s)
		}
	}

	return TaskId{Type: t, ID: s, Timestamp: millis}, nil
}

func parityHex(head string) string {
	b := []byte(head)
	parity := b[0]
	for _, v := range b[1:] {
		parity ^= v
	}
	return hex.EncodeToString([]byte{parity})
}

func integrityErr(s string) error {
	return fmt.Errorf("%w: %q", ErrIntegrity, s)
}

func randIndex(n int) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand reading from the OS source does not fail in practice;
		// if it ever does the process cannot mint identifiers safely.
		panic(fmt.Sprintf("taskid: random source failed: %v", err))
	}
	return v.Int64()
}

var defaultCodec = mustCodec(DefaultAlphabet)

func mustCodec(alphabet string) *Codec {
	c, err := NewCodec(alphabet)
	if err != nil {
		panic(err)
	}
	return c
}

// Generate creates a task id using the default alphabet.
func Generate(t Type) TaskId { return defaultCodec.Generate(t) }

// Decode decodes a task id using the default alphabet.
func Decode(s string) (TaskId, error) { return defaultCodec.Decode(s) }
