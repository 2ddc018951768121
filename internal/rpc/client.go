// Package rpc is the multiplexed JSON-RPC client: an HTTP channel for
// request/response calls and a WebSocket channel for subscriptions,
// sharing one monotonically increasing id space so a caller can tell which
// channel answered which outbound request.
package rpc

import (
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"
)

// Method names this client's callers are permitted to submit. Unlisted
// methods are still accepted by Call/Subscribe; this is documentation,
// not a whitelist.
const (
	MethodGetMinimumBalanceForRentExemption = "get_minimum_balance_for_rent_exemption"
	MethodGetRecentBlockhash                = "get_recent_blockhash"
	MethodGetAccountInfo                    = "get_account_info"
	MethodGetBlock                          = "get_block"
	MethodSendTransaction                   = "send_transaction"

	MethodSlotSubscribe      = "slot_subscribe"
	MethodProgramSubscribe   = "program_subscribe"
	MethodAccountSubscribe   = "account_subscribe"
	MethodSignatureSubscribe = "signature_subscribe"
)

// Request is one outbound JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is one inbound JSON-RPC 2.0 response frame, correlated back to
// its Request by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is one inbound subscription push, correlated back to the
// request that created the subscription by its numeric subscription id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Subscription int64           `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Client is the combined HTTP+WebSocket JSON-RPC transport. Callers issue
// blocking Call for request/response methods and Subscribe for
// long-lived notification streams; both correlate by id against the same
// counter so a caller can log any frame's originating request unambiguously.
type Client struct {
	http   *httpChannel
	ws     *wsChannel
	log    *zap.Logger
	nextID atomic.Int64
}

// Config controls both channels.
type Config struct {
	HTTPURL string
	WSURL   string
	Logger  *zap.Logger
}

// New dials the WebSocket channel and prepares the HTTP channel. The
// WebSocket channel begins its own reconnect supervision immediately; the
// HTTP channel is stateless between calls.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ws, err := newWSChannel(cfg.WSURL, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		http: newHTTPChannel(cfg.HTTPURL),
		ws:   ws,
		log:  logger,
	}, nil
}

// Close tears down the WebSocket connection and releases HTTP keep-alives.
func (c *Client) Close() error {
	c.http.close()
	return c.ws.close()
}

// ConnectionStatus reports whether the WebSocket channel currently believes
// itself connected, used by the supervisor's status bitmap.
func (c *Client) ConnectionStatus() bool {
	return c.ws.isConnected()
}

// Disconnected returns a channel closed each time the WebSocket channel
// loses its connection. Every subscription id a caller was holding is
// invalid the moment this fires; the caller owns re-submitting its
// subscriptions once Call/Subscribe succeed again.
func (c *Client) Disconnected() <-chan struct{} {
	return c.ws.disconnected()
}
