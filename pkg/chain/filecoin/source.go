package filecoin

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/monitor"
)

// attoPerRaw converts attoFIL (1e18) to the ledger's raw scale (1e7).
var attoPerRaw = new(big.Int).Exp(big.NewInt(10), big.NewInt(11), nil)

// Deposit is one FIL transfer to the bridge holder address.
type Deposit struct {
	Epoch      int64
	Index      int
	CID        string
	From       string
	To         string
	Value      *big.Int
	Time       time.Time
	Successful bool
}

// Source walks confirmed epochs and emits holder deposits. The cursor
// is "epoch-index" of the last handled message.
type Source struct {
	client   *Client
	holder   string
	confirms int64
	logger   *zap.Logger
}

func NewSource(client *Client, holderAddr string, confirmations int64, logger *zap.Logger) *Source {
	return &Source{
		client:   client,
		holder:   holderAddr,
		confirms: confirmations,
		logger:   logger.Named("filecoin_source"),
	}
}

func (s *Source) Platform() db.Platform {
	return db.PlatformFilecoin
}

func cursorOf(epoch int64, index int) string {
	return fmt.Sprintf("%d-%d", epoch, index)
}

func parseCursor(cursor string) (epoch int64, index int, err error) {
	if cursor == "" {
		return 0, -1, nil
	}
	parts := strings.SplitN(cursor, "-", 2)
	epoch, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad cursor %q: %w", cursor, err)
	}
	index = -1
	if len(parts) == 2 {
		index, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
	}
	return epoch, index, nil
}

// epochDone marks a cursor whose epoch is fully consumed.
const epochDone = 1<<31 - 1

func (s *Source) SeedCursor(ctx context.Context) (string, error) {
	head, err := s.client.ChainHead(ctx)
	if err != nil {
		return "", err
	}
	safe := head.Height - s.confirms
	if safe < 0 {
		safe = 0
	}
	return cursorOf(safe, epochDone), nil
}

func (s *Source) NextPage(ctx context.Context, cursor string, limit int) ([]monitor.TxItem[TipSet, Deposit], error) {
	lastEpoch, lastIdx, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	head, err := s.client.ChainHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain head: %w", err)
	}
	safe := head.Height - s.confirms

	epoch := lastEpoch
	if lastIdx == epochDone {
		epoch++
	}
	if epoch > safe {
		return nil, nil
	}

	ts, err := s.client.TipSetByHeight(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tipset %d: %w", epoch, err)
	}
	msgs, err := s.client.TipSetMessages(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages at %d: %w", epoch, err)
	}

	var tsTime time.Time
	if len(ts.Blocks) > 0 {
		tsTime = time.Unix(int64(ts.Blocks[0].Timestamp), 0).UTC()
	}

	var items []monitor.TxItem[TipSet, Deposit]
	for i, msg := range msgs {
		if epoch == lastEpoch && i <= lastIdx {
			continue
		}
		// Method 0 is a plain value send.
		if msg.Method != 0 || !strings.EqualFold(msg.To, s.holder) {
			continue
		}
		value, ok := new(big.Int).SetString(msg.Value, 10)
		if !ok || value.Sign() == 0 {
			continue
		}
		items = append(items, monitor.TxItem[TipSet, Deposit]{Tx: Deposit{
			Epoch:      epoch,
			Index:      i,
			CID:        msg.CID,
			From:       msg.From,
			To:         msg.To,
			Value:      value,
			Time:       tsTime,
			Successful: true,
		}})
		if len(items) == limit {
			return items, nil
		}
	}

	if len(items) == 0 {
		// Epoch exhausted without deposits; advance with a sentinel.
		items = append(items, monitor.TxItem[TipSet, Deposit]{Tx: Deposit{
			Epoch:      epoch,
			Index:      epochDone,
			Successful: true,
			Value:      big.NewInt(0),
		}})
	}
	return items, nil
}

func (s *Source) Transaction(ctx context.Context, txID string) (*Deposit, error) {
	found, exitCode, err := s.client.MessageReceiptExitCode(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Deposit{
		CID:        txID,
		Value:      big.NewInt(0),
		Successful: exitCode == 0,
	}, nil
}

func (s *Source) Decode(ctx context.Context, d Deposit) (*monitor.DecodedTx[Deposit], error) {
	decoded := &monitor.DecodedTx[Deposit]{
		Hash:        d.CID,
		PagingToken: cursorOf(d.Epoch, d.Index),
		Ledger:      d.Epoch,
		Time:        d.Time,
		Successful:  d.Successful,
	}
	if d.CID == "" {
		return decoded, nil
	}

	raw := new(big.Int).Quo(d.Value, attoPerRaw)
	var amountRaw int64
	if raw.IsInt64() {
		amountRaw = raw.Int64()
	}

	decoded.SourceAccount = d.From
	decoded.Receipts = []Deposit{d}
	decoded.OpRows = []db.OpReceipt{{
		TxHash:    d.CID,
		OpIndex:   d.Index,
		Platform:  db.PlatformFilecoin,
		Status:    "SUCCESS",
		From:      d.From,
		To:        d.To,
		AssetCode: "FIL",
		AmountRaw: amountRaw,
		Timestamp: d.Time,
	}}
	return decoded, nil
}
