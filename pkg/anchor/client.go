package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ConfirmDeanchorRequest asks the anchor server to approve returning a
// custodied asset to its owner.
type ConfirmDeanchorRequest struct {
	TaskID    string `json:"task_id"`
	AssetCode string `json:"asset_code"`
	Amount    string `json:"amount"`
	To        string `json:"to"`
}

// DeanchorConfirmation is the anchor server's verdict. FeeAmount is the
// de-anchoring fee withheld from the returned amount.
type DeanchorConfirmation struct {
	Confirmed bool   `json:"confirmed"`
	FeeAmount string `json:"fee_amount"`
	Reason    string `json:"reason,omitempty"`
}

// Client talks to the anchor server over its JSON API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("anchor_client"),
	}
}

// ConfirmDeanchor requests approval for a de-anchor refund. A reachable
// server that declines is reported through the Confirmed flag, not an
// error.
func (c *Client) ConfirmDeanchor(ctx context.Context, req ConfirmDeanchorRequest) (*DeanchorConfirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal confirm request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deanchor/confirm", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anchor server unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anchor server returned %d: %s", resp.StatusCode, raw)
	}
	var conf DeanchorConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse anchor server response: %w", err)
	}
	return &conf, nil
}
