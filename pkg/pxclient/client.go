// Package pxclient is a Go client for the PX control API: JSON-RPC 2.0 over a
// single WebSocket connection, with synchronous calls correlated by request id
// and asynchronous notification routing for subscriptions.
package pxclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pxaudio/pxctl/pkg/jrpc"
)

// ErrClosed reports that the connection closed while a call was in flight, or
// that a call was attempted on a closed client.
var ErrClosed = errors.New("connection closed")

// NotifyFunc handles a device notification.
type NotifyFunc func(jrpc.Notification)

type callResult struct {
	resp *jrpc.Response
	err  error
}

// Client owns one WebSocket connection to a device. It is safe for concurrent
// use, though the device API is designed around one call in flight at a time.
type Client struct {
	log  *logrus.Logger
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan callResult
	batch    chan callBatchResult
	subs     map[string]NotifyFunc
	onNotify NotifyFunc
	closed   bool
	closeErr error

	done chan struct{}
}

type callBatchResult struct {
	resps []jrpc.Response
	err   error
}

// An Option adjusts client construction.
type Option func(*dialConfig)

type dialConfig struct {
	log              *logrus.Logger
	onNotify         NotifyFunc
	handshakeTimeout time.Duration
}

// WithLogger sets the logger used for wire-level debug output.
func WithLogger(log *logrus.Logger) Option {
	return func(cfg *dialConfig) { cfg.log = log }
}

// WithNotifyObserver registers a catch-all handler for notifications that are
// not routed to a specific subscription.
func WithNotifyObserver(fn NotifyFunc) Option {
	return func(cfg *dialConfig) { cfg.onNotify = fn }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(cfg *dialConfig) { cfg.handshakeTimeout = d }
}

// Dial connects to ws://target:port/ws.
func Dial(ctx context.Context, target string, port int, opts ...Option) (*Client, error) {
	return DialURL(ctx, fmt.Sprintf("ws://%s:%d/ws", target, port), opts...)
}

// DialURL connects to an explicit WebSocket URL.
func DialURL(ctx context.Context, url string, opts ...Option) (*Client, error) {
	cfg := dialConfig{handshakeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logrus.New()
		cfg.log.SetLevel(logrus.WarnLevel)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		log:      cfg.log,
		conn:     conn,
		pending:  make(map[uint64]chan callResult),
		subs:     make(map[string]NotifyFunc),
		onNotify: cfg.onNotify,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close sends a close frame and tears the connection down. In-flight calls
// fail with ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.fail(ErrClosed)

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return err
}

// Call sends one request and returns the matching response's result,
// transparently skipping any notifications that arrive first. Error responses
// come back as a *jrpc.RPCError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := jrpc.NewRequest(id, method, params)
	payload, err := json.Marshal(req)
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	c.log.WithFields(logrus.Fields{"id": id, "method": method}).Debug("-> request")
	if err := c.write(payload); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, res.resp.Error
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// CallBatch sends requests as one array frame, overwriting their ids with
// fresh sequential ones, and returns the response array as received. Callers
// reconcile by id; response order is not guaranteed.
func (c *Client) CallBatch(ctx context.Context, reqs []jrpc.Request) ([]jrpc.Response, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	ch := make(chan callBatchResult, 1)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	if c.batch != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("batch already in flight")
	}
	for i := range reqs {
		c.nextID++
		reqs[i].JSONRPC = jrpc.Version
		reqs[i].ID = c.nextID
	}
	c.batch = ch
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.batch == ch {
			c.batch = nil
		}
		c.mu.Unlock()
	}

	payload, err := jrpc.EncodeBatch(reqs)
	if err != nil {
		release()
		return nil, err
	}
	c.log.WithField("requests", len(reqs)).Debug("-> batch request")
	if err := c.write(payload); err != nil {
		release()
		return nil, fmt.Errorf("send batch: %w", err)
	}

	select {
	case res := <-ch:
		release()
		return res.resps, res.err
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

// Subscribe issues a *_subscribe call and registers handler for notifications
// carrying the returned subscription id.
func (c *Client) Subscribe(ctx context.Context, method string, params any, handler NotifyFunc) (string, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return "", err
	}
	var res struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.Unmarshal(result, &res); err != nil || res.SubscriptionID == "" {
		return "", fmt.Errorf("%w: %s result carries no subscription_id", jrpc.ErrProtocol, method)
	}
	if handler != nil {
		c.mu.Lock()
		c.subs[res.SubscriptionID] = handler
		c.mu.Unlock()
	}
	return res.SubscriptionID, nil
}

// Unsubscribe issues a *_unsubscribe call and drops the local handler.
func (c *Client) Unsubscribe(ctx context.Context, method, subscriptionID string) error {
	_, err := c.Call(ctx, method, map[string]any{"subscription_id": subscriptionID})
	c.mu.Lock()
	delete(c.subs, subscriptionID)
	c.mu.Unlock()
	return err
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// fail marks the client closed and releases every waiter with err.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[uint64]chan callResult)
	batch := c.batch
	c.batch = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	if batch != nil {
		batch <- callBatchResult{err: err}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(ErrClosed)
			} else {
				c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	if jrpc.IsBatch(raw) {
		resps, err := jrpc.DecodeBatch(raw)
		c.mu.Lock()
		ch := c.batch
		c.batch = nil
		c.mu.Unlock()
		if ch == nil {
			c.log.Warn("discarding batch response with no batch in flight")
			return
		}
		ch <- callBatchResult{resps: resps, err: err}
		return
	}

	msg, err := jrpc.Classify(raw)
	if err != nil {
		// Malformed frame: surface the protocol error to whoever is
		// waiting, keep the connection up.
		c.log.WithError(err).Warn("discarding malformed frame")
		c.failWaiters(err)
		return
	}

	switch m := msg.(type) {
	case *jrpc.Notification:
		c.dispatchNotification(*m)
	case *jrpc.Response:
		c.mu.Lock()
		ch, ok := c.pending[m.ID]
		if ok {
			delete(c.pending, m.ID)
		}
		c.mu.Unlock()
		if !ok {
			// Out-of-order response for an id we never sent or already
			// abandoned. Must not take the reader down.
			c.log.WithField("id", m.ID).Warn("response for unknown request id")
			return
		}
		c.log.WithField("id", m.ID).Debug("<- response")
		ch <- callResult{resp: m}
	}
}

// failWaiters releases current call and batch waiters with err without
// closing the client.
func (c *Client) failWaiters(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan callResult)
	batch := c.batch
	c.batch = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	if batch != nil {
		batch <- callBatchResult{err: err}
	}
}

func (c *Client) dispatchNotification(n jrpc.Notification) {
	c.mu.Lock()
	handler := c.subs[n.SubscriptionID()]
	catchAll := c.onNotify
	c.mu.Unlock()

	switch {
	case handler != nil:
		handler(n)
	case catchAll != nil:
		catchAll(n)
	default:
		c.log.WithField("method", n.Method).Debug("<- unrouted notification")
	}
}
