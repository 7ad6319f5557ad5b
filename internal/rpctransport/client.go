package rpctransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
)

// Client issues GetChain/ReceiveBlock/AddBlock calls over mutual TLS against
// the peer address passed to each call; one Client serves every peer.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client using tlsCfg for the mutual-TLS handshake.
func NewClient(tlsCfg *tls.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}
}

// GetChain requests the full remote chain from addr.
func (c *Client) GetChain(ctx context.Context, addr string) ([]chainhash.Block, error) {
	return c.call(ctx, addr, "/rpc/get-chain", nil)
}

// ReceiveBlock sends b to addr's ReceiveBlock endpoint.
func (c *Client) ReceiveBlock(ctx context.Context, addr string, b chainhash.Block) ([]chainhash.Block, error) {
	return c.call(ctx, addr, "/rpc/receive-block", b)
}

// AddBlock sends b to addr's AddBlock endpoint (idempotent on index).
func (c *Client) AddBlock(ctx context.Context, addr string, b chainhash.Block) ([]chainhash.Block, error) {
	return c.call(ctx, addr, "/rpc/add-block", b)
}

func (c *Client) call(ctx context.Context, addr, path string, payload interface{}) ([]chainhash.Block, error) {
	var body bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = *bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+addr+path, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, chainerr.ErrRPCTimeout
		}
		return nil, fmt.Errorf("%w: %v", chainerr.ErrRPCTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatusError(resp.StatusCode)
	}

	var out chainResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", chainerr.ErrStorageError, err)
	}
	return out.Chain, nil
}

func mapStatusError(status int) error {
	switch status {
	case http.StatusBadRequest:
		return chainerr.ErrInvalidSequence
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return chainerr.ErrRPCTimeout
	default:
		return chainerr.ErrStorageError
	}
}
