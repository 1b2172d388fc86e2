package jrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyResponses(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"success", `{"jsonrpc":"2.0","id":7,"result":"pong"}`},
		{"null result", `{"jsonrpc":"2.0","id":7,"result":null}`},
		{"error", `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"method not found"}}`},
		{"no version field", `{"id":7,"result":{}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Classify([]byte(tc.raw))
			require.NoError(t, err)
			resp, ok := msg.(*Response)
			require.True(t, ok, "expected *Response, got %T", msg)
			assert.Equal(t, uint64(7), resp.ID)
		})
	}
}

func TestClassifyNotification(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"setup_changed","params":{"subscription_id":"s-1","path":"/power","value":{"mode":"audio"}}}`
	msg, err := Classify([]byte(raw))
	require.NoError(t, err)
	n, ok := msg.(*Notification)
	require.True(t, ok, "expected *Notification, got %T", msg)
	assert.Equal(t, "setup_changed", n.Method)
	assert.Equal(t, "s-1", n.SubscriptionID())
}

func TestClassifyProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"jsonrpc":`},
		{"not an object", `42`},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":{}}`},
		{"neither result nor error", `{"jsonrpc":"2.0","id":1}`},
		{"no method no id", `{"jsonrpc":"2.0","params":{}}`},
		{"request from device", `{"jsonrpc":"2.0","id":1,"method":"setup_get"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Classify([]byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := NewRequest(3, "setup_set", map[string]any{
		"path":  "/audio/output/speaker/1",
		"value": map[string]any{"gain": -3.0},
	})
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var back Request
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Version, back.JSONRPC)
	assert.Equal(t, req.Method, back.Method)
	assert.Equal(t, req.ID, back.ID)

	params, ok := back.Params.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/audio/output/speaker/1", params["path"])
}

func TestNotificationWithoutSubscriptionID(t *testing.T) {
	n := Notification{Method: "metrics_update", Params: json.RawMessage(`{"metrics":{}}`)}
	assert.Equal(t, "", n.SubscriptionID())
	n.Params = nil
	assert.Equal(t, "", n.SubscriptionID())
}

func TestDecodeBatch(t *testing.T) {
	raw := `[
		{"jsonrpc":"2.0","id":2,"result":{}},
		{"jsonrpc":"2.0","id":1,"error":{"code":5,"message":"bad path"}},
		{"jsonrpc":"2.0","id":3,"result":true}
	]`
	resps, err := DecodeBatch([]byte(raw))
	require.NoError(t, err)
	require.Len(t, resps, 3)

	// Order is not meaningful; index by id like callers must.
	byID := make(map[uint64]Response, len(resps))
	for _, r := range resps {
		byID[r.ID] = r
	}
	assert.Nil(t, byID[2].Error)
	require.NotNil(t, byID[1].Error)
	assert.Equal(t, 5, byID[1].Error.Code)
	assert.EqualError(t, byID[1].Error, "rpc error [5]: bad path")
}

func TestDecodeBatchBareObject(t *testing.T) {
	resps, err := DecodeBatch([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, uint64(1), resps[0].ID)
}

func TestEncodeBatch(t *testing.T) {
	_, err := EncodeBatch(nil)
	assert.Error(t, err)

	raw, err := EncodeBatch([]Request{
		NewRequest(1, "api_ping", nil),
		NewRequest(2, "api_version", nil),
	})
	require.NoError(t, err)
	assert.True(t, IsBatch(raw))
}
