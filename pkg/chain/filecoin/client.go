// Package filecoin monitors a Filecoin node over the Lotus JSON-RPC API
// for deposits to the bridge holder address.
package filecoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Client is a minimal Lotus JSON-RPC client.
type Client struct {
	url       string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
	logger    *zap.Logger
}

func NewClient(url, authToken string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:       url,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.Named("lotus"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs one JSON-RPC call and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lotus request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("lotus returned %d: %s", resp.StatusCode, string(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode lotus response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("lotus error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		return json.Unmarshal(rpcResp.Result, out)
	}
	return nil
}

// TipSet is the subset of the Lotus tipset record the source uses.
type TipSet struct {
	Height int64 `json:"Height"`
	Blocks []struct {
		Timestamp uint64 `json:"Timestamp"`
	} `json:"Blocks"`
	Cids []struct {
		Root string `json:"/"`
	} `json:"Cids"`
}

// Message is a Filecoin message narrowed to value transfer fields.
type Message struct {
	CID    string
	From   string `json:"From"`
	To     string `json:"To"`
	Value  string `json:"Value"`
	Method int    `json:"Method"`
}

// ChainHead returns the current chain head tipset.
func (c *Client) ChainHead(ctx context.Context) (*TipSet, error) {
	var ts TipSet
	if err := c.Call(ctx, "Filecoin.ChainHead", &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// TipSetByHeight returns the tipset at the given epoch.
func (c *Client) TipSetByHeight(ctx context.Context, height int64) (*TipSet, error) {
	var ts TipSet
	if err := c.Call(ctx, "Filecoin.ChainGetTipSetByHeight", &ts, height, nil); err != nil {
		return nil, err
	}
	return &ts, nil
}

// TipSetMessages returns the messages included in a tipset.
func (c *Client) TipSetMessages(ctx context.Context, ts *TipSet) ([]Message, error) {
	if len(ts.Cids) == 0 {
		return nil, nil
	}
	key := make([]map[string]string, len(ts.Cids))
	for i, cid := range ts.Cids {
		key[i] = map[string]string{"/": cid.Root}
	}

	var raw []struct {
		Cid struct {
			Root string `json:"/"`
		} `json:"Cid"`
		Message Message `json:"Message"`
	}
	if err := c.Call(ctx, "Filecoin.ChainGetMessagesInTipset", &raw, key); err != nil {
		return nil, err
	}

	msgs := make([]Message, len(raw))
	for i, m := range raw {
		msg := m.Message
		msg.CID = m.Cid.Root
		msgs[i] = msg
	}
	return msgs, nil
}

// MessageReceiptExitCode looks up the execution result of a message.
// found is false while the message has not landed.
func (c *Client) MessageReceiptExitCode(ctx context.Context, cid string) (found bool, exitCode int, err error) {
	var result struct {
		Receipt *struct {
			ExitCode int `json:"ExitCode"`
		} `json:"Receipt"`
	}
	err = c.Call(ctx, "Filecoin.StateSearchMsg", &result,
		nil, map[string]string{"/": cid}, -1, true)
	if err != nil {
		return false, 0, err
	}
	if result.Receipt == nil {
		return false, 0, nil
	}
	return true, result.Receipt.ExitCode, nil
}
