package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pricepub/pricepub/internal/perr"
)

const (
	initialReconnectBackoff = time.Second
	maxReconnectBackoff     = 120 * time.Second
)

// wsChannel owns the single WebSocket connection used for every
// *_subscribe call, its pending-response map (keyed by request id) and its
// live subscription map (keyed by the subscription id the first response
// returns). A reconnect invalidates every subscription atomically: the
// subscription map is cleared and disconnected listeners are woken so
// callers know to re-submit.
type wsChannel struct {
	url string
	log *zap.Logger

	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	pending       map[int64]chan *Response
	subscriptions map[int64]chan json.RawMessage

	disconnectMu sync.Mutex
	disconnectCh chan struct{}

	closeCh chan struct{}
	closed  bool
}

func newWSChannel(url string, log *zap.Logger) (*wsChannel, error) {
	c := &wsChannel{
		url:           url,
		log:           log,
		pending:       make(map[int64]chan *Response),
		subscriptions: make(map[int64]chan json.RawMessage),
		disconnectCh:  make(chan struct{}),
		closeCh:       make(chan struct{}),
	}
	if err := c.dial(); err != nil {
		return nil, perr.Transport("initial websocket dial failed", err)
	}
	go c.readLoop()
	return c, nil
}

func (c *wsChannel) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *wsChannel) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *wsChannel) disconnected() <-chan struct{} {
	c.disconnectMu.Lock()
	defer c.disconnectMu.Unlock()
	return c.disconnectCh
}

// markDisconnected clears every live subscription, wakes anyone waiting on
// Disconnected(), and installs a fresh channel for the next disconnect.
func (c *wsChannel) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, ch := range c.subscriptions {
		close(ch)
		delete(c.subscriptions, id)
	}
	c.mu.Unlock()

	c.disconnectMu.Lock()
	close(c.disconnectCh)
	c.disconnectCh = make(chan struct{})
	c.disconnectMu.Unlock()
}

func (c *wsChannel) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.closeCh)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// reconnect loops with exponential backoff (1s doubling to a 120s cap,
// reset to 1s on the next successful connect) until dial succeeds or the
// channel is closed.
func (c *wsChannel) reconnect() {
	c.markDisconnected()

	backoff := initialReconnectBackoff
	for {
		select {
		case <-c.closeCh:
			return
		case <-time.After(backoff):
		}

		if err := c.dial(); err != nil {
			c.log.Warn("websocket reconnect failed", zap.Error(err), zap.Duration("backoff", backoff))
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
			continue
		}

		c.log.Info("websocket reconnected")
		go c.readLoop()
		return
	}
}

func (c *wsChannel) readLoop() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			select {
			case <-c.closeCh:
				return
			default:
				c.log.Warn("websocket read failed", zap.Error(err))
				go c.reconnect()
				return
			}
		}

		var head struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}

		if head.ID != nil {
			var resp Response
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			c.mu.RLock()
			ch, ok := c.pending[resp.ID]
			c.mu.RUnlock()
			if ok {
				ch <- &resp
			}
			continue
		}

		if head.Method != "" {
			var notif Notification
			if err := json.Unmarshal(raw, &notif); err != nil {
				continue
			}
			c.mu.RLock()
			ch, ok := c.subscriptions[notif.Params.Subscription]
			c.mu.RUnlock()
			if ok {
				select {
				case ch <- notif.Params.Result:
				default:
					c.log.Warn("dropped subscription notification, channel full",
						zap.Int64("subscription", notif.Params.Subscription))
				}
			}
		}
	}
}

func (c *wsChannel) send(id int64, method string, params any) (<-chan *Response, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return nil, perr.Transport("websocket not connected", nil)
	}
	respCh := make(chan *Response, 1)
	c.pending[id] = respCh
	conn := c.conn
	c.mu.Unlock()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		go c.reconnect()
		return nil, perr.Transport("websocket write failed", err)
	}
	return respCh, nil
}

// Subscribe issues a *_subscribe call and returns the subscription id and
// a channel of raw notification payloads. The channel is closed (and the
// subscription forgotten) the moment the connection drops; callers must
// watch Client.Disconnected and re-subscribe.
func (c *Client) Subscribe(ctx context.Context, method string, params any) (int64, <-chan json.RawMessage, error) {
	id := c.nextID.Add(1)
	respCh, err := c.ws.send(id, method, params)
	if err != nil {
		return 0, nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return 0, nil, perr.Transport("websocket disconnected before subscribe response", nil)
		}
		if resp.Error != nil {
			return 0, nil, perr.OnChainReject(resp.Error.Code, resp.Error.Message)
		}
		var subID int64
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			return 0, nil, perr.Protocol("parse subscription id", err)
		}

		notifyCh := make(chan json.RawMessage, 256)
		c.ws.mu.Lock()
		c.ws.subscriptions[subID] = notifyCh
		c.ws.mu.Unlock()

		return subID, notifyCh, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.ws.closeCh:
		return 0, nil, perr.Transport("websocket client closed", nil)
	}
}
