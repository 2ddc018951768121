package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pricepub/pricepub/internal/perr"
)

// httpChannel issues one JSON-RPC call per HTTP POST. There is no
// connection state to track between calls: a failed request is always the
// caller's problem to retry, same as the WebSocket channel after reconnect.
type httpChannel struct {
	url    string
	client *http.Client
}

func newHTTPChannel(url string) *httpChannel {
	return &httpChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *httpChannel) close() {
	h.client.CloseIdleConnections()
}

// call executes a single request/response RPC method over HTTP and
// returns the raw result payload.
func (h *httpChannel) call(ctx context.Context, id int64, method string, params any) (json.RawMessage, error) {
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, perr.Protocol("marshal rpc request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, perr.Transport("build http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, perr.Transport("http rpc call failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Transport("read http rpc response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, perr.Transport(fmt.Sprintf("http rpc status %d", resp.StatusCode), nil)
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, perr.Protocol("unmarshal http rpc response", err)
	}
	if rpcResp.Error != nil {
		return nil, perr.OnChainReject(rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

// Call performs method over the HTTP channel.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	return c.http.call(ctx, id, method, params)
}
