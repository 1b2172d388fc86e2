package pxclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pxaudio/pxctl/internal/mockdevice"
	"github.com/pxaudio/pxctl/pkg/jrpc"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func startDevice(t *testing.T, opts ...Option) (*mockdevice.Device, *Client) {
	t.Helper()
	dev := mockdevice.New(nil)
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(srv.Close)

	c, err := DialURL(context.Background(), wsURL(srv.URL), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return dev, c
}

// rawServer runs fn on each accepted WebSocket connection, for wire-level
// failure scenarios the mock device is too well-behaved to produce.
func rawServer(t *testing.T, fn func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return wsURL(srv.URL)
}

func TestPing(t *testing.T) {
	_, c := startDevice(t)
	pong, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)
}

func TestCallSkipsInterleavedNotifications(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	observer := func(n jrpc.Notification) {
		mu.Lock()
		seen = append(seen, n.Method)
		mu.Unlock()
	}

	dev, c := startDevice(t, WithNotifyObserver(observer))
	dev.SetChatter(5)

	pong, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)

	// The read loop is sequential, so all chatter preceding the response has
	// been dispatched by the time Call returned.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	for _, m := range seen {
		assert.Equal(t, "metrics_update", m)
	}
}

func TestCallReturnsRPCError(t *testing.T) {
	_, c := startDevice(t)
	_, err := c.Call(context.Background(), "no_such_method", nil)
	require.Error(t, err)

	var rpcErr *jrpc.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestSetupSetThenGet(t *testing.T) {
	_, c := startDevice(t)
	ctx := context.Background()

	err := c.SetupSet(ctx, "/audio/output/speaker/1", map[string]any{"gain": -3.0})
	require.NoError(t, err)

	result, err := c.SetupGet(ctx, "/audio/output/speaker/1")
	require.NoError(t, err)

	var speaker struct {
		Gain float64 `json:"gain"`
		Mute bool    `json:"mute"`
	}
	require.NoError(t, json.Unmarshal(result, &speaker))
	assert.Equal(t, -3.0, speaker.Gain)
	assert.False(t, speaker.Mute)
}

func TestSubscribeRoutesAndUnsubscribeStops(t *testing.T) {
	_, c := startDevice(t)
	ctx := context.Background()

	changes := make(chan jrpc.Notification, 8)
	subID, err := c.Subscribe(ctx, "setup_subscribe",
		map[string]any{"path": "/audio/output/speaker/1"},
		func(n jrpc.Notification) { changes <- n })
	require.NoError(t, err)
	require.NotEmpty(t, subID)

	require.NoError(t, c.SetupSet(ctx, "/audio/output/speaker/1/gain", -6.0))

	select {
	case n := <-changes:
		assert.Equal(t, "setup_changed", n.Method)
		assert.Equal(t, subID, n.SubscriptionID())
		var p struct {
			Path  string  `json:"path"`
			Value float64 `json:"value"`
		}
		require.NoError(t, json.Unmarshal(n.Params, &p))
		assert.Equal(t, "/audio/output/speaker/1/gain", p.Path)
		assert.Equal(t, -6.0, p.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no setup_changed notification received")
	}

	// A change outside the subscribed subtree stays silent.
	require.NoError(t, c.SetupSet(ctx, "/audio/output/speaker/2/gain", -1.0))

	require.NoError(t, c.Unsubscribe(ctx, "setup_unsubscribe", subID))
	require.NoError(t, c.SetupSet(ctx, "/audio/output/speaker/1/gain", -9.0))

	select {
	case n := <-changes:
		t.Fatalf("unexpected notification after unsubscribe: %s %s", n.Method, n.Params)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	dev, c := startDevice(t)
	ctx := context.Background()

	// Make sure the connection is registered device-side before injecting.
	_, err := c.Ping(ctx)
	require.NoError(t, err)

	dev.InjectRaw([]byte(`{"jsonrpc":"2.0","id":99999,"result":"stray"}`))
	time.Sleep(50 * time.Millisecond)

	pong, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)
}

func TestMalformedFrameFailsWaiterWithProtocolError(t *testing.T) {
	url := rawServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":`))
		}
	})

	c, err := DialURL(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "api_ping", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, jrpc.ErrProtocol)
}

func TestResponseWithoutResultOrError(t *testing.T) {
	url := rawServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1}`))
		}
	})

	c, err := DialURL(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "api_ping", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, jrpc.ErrProtocol)
}

func TestSocketClosedWhileWaiting(t *testing.T) {
	url := rawServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	})

	c, err := DialURL(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "api_ping", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCallContextDeadline(t *testing.T) {
	url := rawServer(t, func(conn *websocket.Conn) {
		// Swallow requests, never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c, err := DialURL(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, "api_ping", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallBatchReconciliation(t *testing.T) {
	_, c := startDevice(t)

	reqs := []jrpc.Request{
		{Method: "setup_set", Params: map[string]any{"path": "/audio/output/speaker/1/gain", "value": -2.0}},
		{Method: "no_such_method", Params: map[string]any{}},
		{Method: "setup_set", Params: map[string]any{"path": "/audio/output/speaker/2/mute", "value": true}},
	}
	resps, err := c.CallBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, resps, 3)

	// The device answers in reverse order; correlate through the ids that
	// CallBatch stamped onto the requests.
	byID := make(map[uint64]jrpc.Response, len(resps))
	for _, r := range resps {
		byID[r.ID] = r
	}
	assert.Nil(t, byID[reqs[0].ID].Error)
	require.NotNil(t, byID[reqs[1].ID].Error)
	assert.Equal(t, -32601, byID[reqs[1].ID].Error.Code)
	assert.Nil(t, byID[reqs[2].ID].Error)
}

func TestSubscribeResultWithoutSubscriptionID(t *testing.T) {
	_, c := startDevice(t)
	_, err := c.Subscribe(context.Background(), "api_ping", nil, func(jrpc.Notification) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, jrpc.ErrProtocol)
}

func TestVersion(t *testing.T) {
	_, c := startDevice(t)
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0", v.APIVersion)
	assert.NotZero(t, v.APILevel)
	assert.NotEmpty(t, v.FirmwareVersion)
}
