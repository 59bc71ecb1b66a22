package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Wallet protocol methods used by this app. The shapes of their params are
// defined by the wallet; we treat them as opaque capability calls.
const (
	MethodRequestAccounts  = "eth_requestAccounts"
	MethodGetBalance       = "eth_getBalance"
	MethodSendTransaction  = "eth_sendTransaction"
	MethodCall             = "eth_call"
	MethodGetSubAccounts   = "wallet_getSubAccounts"
	MethodListSubAccounts  = "wallet_listSubAccounts"
	MethodGrantPermissions = "wallet_grantPermissions"
	MethodSendCalls        = "wallet_sendCalls"
)

// Provider is the request-capable handle to the user's wallet. Every call is
// an asynchronous suspension point; implementations must honor ctx.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

// Client is a JSON-RPC backed Provider.
type Client struct {
	rpc *gethrpc.Client
}

// Dial connects to a wallet RPC endpoint.
func Dial(endpoint string) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("wallet endpoint required")
	}
	rc, err := gethrpc.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial wallet: %w", err)
	}
	return &Client{rpc: rc}, nil
}

// Request performs a raw JSON-RPC call and returns the undecoded result.
func (c *Client) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}
