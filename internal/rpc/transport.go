package rpc

import (
	"context"
	"encoding/json"
)

// Transport is the surface every higher-level package depends on, so
// request/composite/mirror/publish/supervisor code can be exercised
// against a fake transport instead of a live socket pair.
type Transport interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Subscribe(ctx context.Context, method string, params any) (int64, <-chan json.RawMessage, error)
	Disconnected() <-chan struct{}
	ConnectionStatus() bool
	Close() error
}

var _ Transport = (*Client)(nil)
