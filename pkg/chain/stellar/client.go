// Package stellar talks to the primary ledger through its horizon REST
// API and adapts it to the monitor's source contract.
package stellar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned for lookups of resources horizon does not
// know (yet).
var ErrNotFound = errors.New("horizon resource not found")

// Transaction is the horizon transaction record.
type Transaction struct {
	ID            string    `json:"id"`
	PagingToken   string    `json:"paging_token"`
	Hash          string    `json:"hash"`
	Successful    bool      `json:"successful"`
	Ledger        int64     `json:"ledger"`
	CreatedAt     time.Time `json:"created_at"`
	SourceAccount string    `json:"source_account"`
	FeeCharged    int64     `json:"fee_charged,string"`
	EnvelopeXdr   string    `json:"envelope_xdr"`
	ResultXdr     string    `json:"result_xdr"`
	MemoType      string    `json:"memo_type"`
	Memo          string    `json:"memo"`
}

// Operation is the horizon operation record, narrowed to the fields the
// bridge uses. Payment-like operations carry From/To/Amount.
type Operation struct {
	ID              string    `json:"id"`
	PagingToken     string    `json:"paging_token"`
	Type            string    `json:"type"`
	TransactionHash string    `json:"transaction_hash"`
	CreatedAt       time.Time `json:"created_at"`

	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
}

// Offer is the horizon offer record.
type Offer struct {
	ID     int64  `json:"id,string"`
	Seller string `json:"seller"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

// Balance is one asset line of a horizon account record.
type Balance struct {
	AssetType string `json:"asset_type"`
	AssetCode string `json:"asset_code"`
	Balance   string `json:"balance"`
}

// Account is the horizon account record.
type Account struct {
	AccountID     string    `json:"account_id"`
	Sequence      int64     `json:"sequence,string"`
	SubentryCount int64     `json:"subentry_count"`
	Balances      []Balance `json:"balances"`
}

// NativeBalance returns the account's native-asset balance string, or
// "0" when the account carries no native line.
func (a *Account) NativeBalance() string {
	for _, b := range a.Balances {
		if b.AssetType == "native" {
			return b.Balance
		}
	}
	return "0"
}

// SubmissionResult is the horizon response to a transaction submission.
type SubmissionResult struct {
	Hash       string `json:"hash"`
	Successful bool   `json:"successful"`
	ResultXdr  string `json:"result_xdr"`
}

type recordsPage[T any] struct {
	Embedded struct {
		Records []T `json:"records"`
	} `json:"_embedded"`
}

// Client is a horizon REST client with endpoint failover. Requests go
// to the current endpoint; on transport errors the client rotates to
// the next one.
type Client struct {
	endpoints []string
	current   atomic.Int64
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a horizon client over one or more endpoints.
func NewClient(endpoints []string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one horizon endpoint is required")
	}
	trimmed := make([]string, len(endpoints))
	for i, e := range endpoints {
		trimmed[i] = strings.TrimRight(e, "/")
	}
	return &Client{
		endpoints: trimmed,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.Named("horizon"),
	}, nil
}

// PickEndpoint returns the endpoint currently in use.
func (c *Client) PickEndpoint() string {
	return c.endpoints[int(c.current.Load())%len(c.endpoints)]
}

func (c *Client) rotate() {
	if len(c.endpoints) > 1 {
		next := c.current.Add(1)
		c.logger.Warn("Rotating horizon endpoint",
			zap.String("endpoint", c.endpoints[int(next)%len(c.endpoints)]))
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.PickEndpoint() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.rotate()
		return fmt.Errorf("horizon request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("horizon returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Transactions returns up to limit transactions strictly after cursor
// in the given order ("asc" or "desc"). An empty cursor starts from the
// respective end of the chain.
func (c *Client) Transactions(ctx context.Context, cursor, order string, limit int) ([]Transaction, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	query.Set("order", order)
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("include_failed", "true")

	var page recordsPage[Transaction]
	if err := c.get(ctx, "/transactions", query, &page); err != nil {
		return nil, err
	}
	return page.Embedded.Records, nil
}

// Transaction fetches one transaction by hash.
func (c *Client) Transaction(ctx context.Context, hash string) (*Transaction, error) {
	var tx Transaction
	if err := c.get(ctx, "/transactions/"+url.PathEscape(hash), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Operations returns the operations of one transaction.
func (c *Client) Operations(ctx context.Context, txHash string) ([]Operation, error) {
	query := url.Values{}
	query.Set("limit", "200")
	var page recordsPage[Operation]
	if err := c.get(ctx, "/transactions/"+url.PathEscape(txHash)+"/operations", query, &page); err != nil {
		return nil, err
	}
	return page.Embedded.Records, nil
}

// Offer fetches one open offer by id. ErrNotFound means the offer is
// fully consumed or was never made.
func (c *Client) Offer(ctx context.Context, offerID int64) (*Offer, error) {
	var offer Offer
	if err := c.get(ctx, fmt.Sprintf("/offers/%d", offerID), nil, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// AccountSequence returns the current sequence number of an account.
func (c *Client) AccountSequence(ctx context.Context, accountID string) (int64, error) {
	account, err := c.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Sequence, nil
}

// Account fetches a ledger account with its balances.
func (c *Client) Account(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID), nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// SubmitEnvelope posts a signed transaction envelope.
func (c *Client) SubmitEnvelope(ctx context.Context, envelope string) (*SubmissionResult, error) {
	form := url.Values{}
	form.Set("tx", envelope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.PickEndpoint()+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.rotate()
		return nil, fmt.Errorf("horizon submission failed: %w", err)
	}
	defer resp.Body.Close()

	var result SubmissionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode submission result: %w", err)
	}
	if resp.StatusCode >= 300 && result.Hash == "" {
		return nil, fmt.Errorf("horizon rejected submission with status %d", resp.StatusCode)
	}
	return &result, nil
}
