// Package signer calls the remote signing service that guards the
// bridge-controlled account keys. The service authenticates callers by
// an app name plus a keccak digest over the app key and request body.
package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// Client signs transaction digests through the remote service.
type Client struct {
	url     string
	appName string
	appKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(url, appName, appKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:     url,
		appName: appName,
		appKey:  appKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("signer"),
	}
}

type signRequest struct {
	Account string `json:"account"`
	Digest  string `json:"digest"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// authDigest derives the request authentication header from the app key
// and the serialized request.
func (c *Client) authDigest(body []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(c.appKey))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign requests a signature over digest for the given account.
func (c *Client) Sign(ctx context.Context, account string, digest []byte) (string, error) {
	body, err := json.Marshal(signRequest{
		Account: account,
		Digest:  hex.EncodeToString(digest),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Name", c.appName)
	req.Header.Set("X-App-Auth", c.authDigest(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("signer returned %d: %s", resp.StatusCode, string(b))
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode signer response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("signer refused: %s", out.Error)
	}
	if out.Signature == "" {
		return "", fmt.Errorf("signer returned an empty signature")
	}

	c.logger.Debug("Signed digest", zap.String("account", account))
	return out.Signature, nil
}
