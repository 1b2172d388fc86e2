// Package mockdevice emulates the control surface of a PX amplifier: the
// JSON-RPC-over-WebSocket endpoint at /ws and the firmware upload endpoint at
// /api/firmware. It backs the package tests and the standalone mockpx command.
package mockdevice

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"

	"github.com/pxaudio/pxctl/pkg/jrpc"
)

// Device holds the emulated state shared by all connections.
type Device struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	setup      map[string]any
	status     map[string]any
	logs       []LogEntry
	logFilter  string
	nextSubID  int
	subs       map[string]*subscription
	conns      map[*deviceConn]struct{}
	chatter    int
	deviceTime string
	fwBytes    int64
}

type subscription struct {
	id    string
	kind  string // setup, status or metrics
	paths []string
	conn  *deviceConn
	stop  chan struct{}
}

type deviceConn struct {
	dev     *Device
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// New builds a device with the default setup and status trees.
func New(log *logrus.Logger) *Device {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Device{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		setup:    defaultSetup(),
		status:   defaultStatus(),
		logs:     defaultLogs(),
		subs:     make(map[string]*subscription),
		conns:    make(map[*deviceConn]struct{}),
	}
}

// Handler returns the device's HTTP surface.
func (d *Device) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", d.wsHandler)
	mux.HandleFunc("/api/firmware", d.firmwareHandler)
	return mux
}

/// Start serves the device on addr (e.g. ":8098") and returns the server so
// the caller can shut it down.
func Start(addr string, log *logrus.Logger) *http.Server {
	d := New(log)
	srv := &http.Server{Addr: addr, Handler: d.Handler()}
	go func() {
		d.log.WithField("addr", srv.Addr).Info("mock device listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Error("mock device stopped")
		}
	}()
	return srv
}

// SetChatter makes the device emit n metrics_update notifications before each
// response, to exercise clients' skip-notifications loops.
func (d *Device) SetChatter(n int) {
	d.mu.Lock()
	d.chatter = n
	d.mu.Unlock()
}

// InjectRaw writes a raw frame to every open connection.
func (d *Device) InjectRaw(raw []byte) {
	d.mu.Lock()
	conns := make([]*deviceConn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		c.writeRaw(raw)
	}
}

// FirmwareBytes reports how many firmware payload bytes have been received.
func (d *Device) FirmwareBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fwBytes
}

func (d *Device) firmwareHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
		http.Error(w, "expected application/octet-stream", http.StatusUnsupportedMediaType)
		return
	}
	n, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	d.fwBytes += n
	if fw, ok := d.status["firmware"].(map[string]any); ok {
		fw["state"] = "staged"
	}
	d.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received":%d}`, n)
}

func (d *Device) wsHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn := &deviceConn{dev: d, ws: ws}
	d.mu.Lock()
	d.conns[conn] = struct{}{}
	d.mu.Unlock()
	defer d.dropConn(conn)

	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		conn.handleFrame(raw)
	}
}

func (d *Device) dropConn(conn *deviceConn) {
	d.mu.Lock()
	delete(d.conns, conn)
	for id, sub := range d.subs {
		if sub.conn == conn {
			if sub.stop != nil {
				close(sub.stop)
			}
			delete(d.subs, id)
		}
	}
	d.mu.Unlock()
	_ = conn.ws.Close()
}

type inboundRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      *uint64         `json:"id"`
}

func (c *deviceConn) handleFrame(raw []byte) {
	if jrpc.IsBatch(raw) {
		var reqs []inboundRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			c.dev.log.WithError(err).Warn("unparseable batch frame")
			return
		}
		resps := make([]jrpc.Response, 0, len(reqs))
		for _, req := range reqs {
			resps = append(resps, c.respond(req))
		}
		// Answer in reverse so clients cannot get away with positional
		// reconciliation.
		for i, j := 0, len(resps)-1; i < j; i, j = i+1, j-1 {
			resps[i], resps[j] = resps[j], resps[i]
		}
		c.writeJSON(resps)
		return
	}

	var req inboundRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.dev.log.WithError(err).Warn("unparseable frame")
		return
	}
	if req.ID == nil {
		c.dev.log.WithField("method", req.Method).Debug("ignoring notification from client")
		return
	}

	c.dev.mu.Lock()
	chatter := c.dev.chatter
	c.dev.mu.Unlock()
	for i := 0; i < chatter; i++ {
		c.notify("metrics_update", map[string]any{
			"metrics": map[string]any{"/audio/output/speaker/1/level": -20.0 - float64(i)},
		})
	}

	c.writeJSON(c.respond(req))
}

func (c *deviceConn) respond(req inboundRequest) jrpc.Response {
	resp := jrpc.Response{JSONRPC: jrpc.Version}
	if req.ID != nil {
		resp.ID = *req.ID
	}
	result, rpcErr := c.dev.dispatch(c, req.Method, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = &jrpc.RPCError{Code: -32603, Message: "internal error"}
		return resp
	}
	resp.Result = raw
	return resp
}

func rpcError(code int, format string, args ...any) *jrpc.RPCError {
	return &jrpc.RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func decodeParams[T any](raw json.RawMessage, out *T) *jrpc.RPCError {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return rpcError(-32602, "invalid params: %v", err)
	}
	return nil
}

func (d *Device) dispatch(conn *deviceConn, method string, params json.RawMessage) (any, *jrpc.RPCError) {
	switch method {
	case "api_ping":
		return "pong", nil
	case "api_version":
		return map[string]any{"api_version": "2.0", "api_level": 3, "firmware_version": "1.4.2"}, nil

	case "setup_get":
		return d.treeGet(d.setup, params)
	case "setup_get_all":
		d.mu.Lock()
		defer d.mu.Unlock()
		return deepcopy.Copy(d.setup), nil
	case "setup_set":
		var p struct {
			Path  string `json:"path"`
			Value any    `json:"value"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		return d.setupSet(p.Path, p.Value)
	case "setup_set_value":
		var p struct {
			Path     string `json:"path"`
			Property string `json:"property"`
			Value    any    `json:"value"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		if p.Property == "" {
			return nil, rpcError(-32602, "invalid params: property required")
		}
		return d.setupSet(p.Path+"/"+p.Property, p.Value)
	case "setup_subscribe":
		return d.subscribe(conn, "setup", params), nil
	case "setup_unsubscribe", "status_unsubscribe", "metrics_unsubscribe":
		return d.unsubscribe(params)

	case "status_get":
		return d.treeGet(d.status, params)
	case "status_get_all":
		d.mu.Lock()
		defer d.mu.Unlock()
		return deepcopy.Copy(d.status), nil
	case "status_subscribe":
		return d.subscribe(conn, "status", params), nil

	case "metrics_subscribe":
		return d.metricsSubscribe(conn, params), nil

	case "logs_get":
		var p struct {
			Limit int `json:"limit"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		logs := d.logs
		if p.Limit > 0 && p.Limit < len(logs) {
			logs = logs[len(logs)-p.Limit:]
		}
		return logs, nil
	case "logs_set_level":
		var p struct {
			Filter string `json:"filter"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		d.mu.Lock()
		d.logFilter = p.Filter
		d.mu.Unlock()
		return true, nil

	case "preset_create", "preset_show", "preset_clear", "preset_apply":
		return d.presetOp(method, params)

	case "backup_create":
		d.mu.Lock()
		defer d.mu.Unlock()
		return map[string]any{"setup": deepcopy.Copy(d.setup)}, nil
	case "backup_restore":
		var p struct {
			Setup map[string]any `json:"setup"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		if p.Setup == nil {
			return nil, rpcError(-32602, "invalid params: setup required")
		}
		d.mu.Lock()
		d.setup = p.Setup
		d.mu.Unlock()
		return true, nil

	case "diagnostics_get":
		d.mu.Lock()
		defer d.mu.Unlock()
		return map[string]any{
			"temperature_c": 41.5,
			"fan_rpm":       1220,
			"uptime_sec":    86400,
			"psu_voltage":   48.1,
		}, nil

	case "device_reboot", "device_reset", "device_power_on", "device_power_off":
		d.mu.Lock()
		if state, ok := d.status["state"].(map[string]any); ok {
			switch method {
			case "device_power_on", "device_reboot", "device_reset":
				state["power"] = "on"
			case "device_power_off":
				state["power"] = "off"
			}
		}
		d.mu.Unlock()
		return true, nil
	case "device_find_me":
		var p struct {
			TimeoutSec float64 `json:"timeout_sec"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		d.mu.Lock()
		if state, ok := d.status["state"].(map[string]any); ok {
			state["find_me"] = p.TimeoutSec != 0
		}
		d.mu.Unlock()
		return true, nil
	case "device_get_time":
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.deviceTime != "" {
			return map[string]any{"time": d.deviceTime}, nil
		}
		return map[string]any{"time": time.Now().UTC().Format(time.RFC3339)}, nil
	case "device_set_time":
		var p struct {
			Time string `json:"time"`
		}
		if errp := decodeParams(params, &p); errp != nil {
			return nil, errp
		}
		if _, err := time.Parse(time.RFC3339, p.Time); err != nil {
			return nil, rpcError(-32602, "invalid params: bad time %q", p.Time)
		}
		d.mu.Lock()
		d.deviceTime = p.Time
		d.mu.Unlock()
		return true, nil

	default:
		return nil, rpcError(-32601, "method not found: %s", method)
	}
}

func (d *Device) treeGet(tree map[string]any, params json.RawMessage) (any, *jrpc.RPCError) {
	var p struct {
		Path string `json:"path"`
	}
	if errp := decodeParams(params, &p); errp != nil {
		return nil, errp
	}
	segs, err := splitPath(p.Path)
	if err != nil {
		return nil, rpcError(-32602, "invalid params: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	node, ok := resolvePath(tree, segs)
	if !ok {
		return nil, rpcError(-32000, "path not found: %s", p.Path)
	}
	return deepcopy.Copy(node), nil
}

func (d *Device) setupSet(path string, value any) (any, *jrpc.RPCError) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, rpcError(-32602, "invalid params: %v", err)
	}
	d.mu.Lock()
	if err := setPath(d.setup, segs, value); err != nil {
		d.mu.Unlock()
		return nil, rpcError(-32000, "%v: %s", err, path)
	}
	subs := d.matchingSubs("setup", path)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.conn.notify("setup_changed", map[string]any{
			"subscription_id": sub.id,
			"path":            path,
			"value":           value,
		})
	}
	return true, nil
}

// matchingSubs is called with d.mu held.
func (d *Device) matchingSubs(kind, path string) []*subscription {
	var out []*subscription
	for _, sub := range d.subs {
		if sub.kind != kind {
			continue
		}
		if len(sub.paths) == 0 {
			out = append(out, sub)
			continue
		}
		for _, p := range sub.paths {
			if pathsOverlap(p, path) {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}

func pathsOverlap(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	if a != b[:len(a)] {
		return false
	}
	return len(a) == len(b) || b[len(a)] == '/'
}

type subscribeParams struct {
	Path  string   `json:"path"`
	Paths []string `json:"paths"`
}

func (d *Device) subscribe(conn *deviceConn, kind string, params json.RawMessage) any {
	var p subscribeParams
	_ = json.Unmarshal(params, &p)
	paths := p.Paths
	if p.Path != "" {
		paths = append(paths, p.Path)
	}

	d.mu.Lock()
	d.nextSubID++
	id := "sub-" + strconv.Itoa(d.nextSubID)
	d.subs[id] = &subscription{id: id, kind: kind, paths: paths, conn: conn}
	d.mu.Unlock()
	return map[string]any{"subscription_id": id}
}

func (d *Device) metricsSubscribe(conn *deviceConn, params json.RawMessage) any {
	var p struct {
		Interval int `json:"interval"`
		Freq     int `json:"freq"`
	}
	_ = json.Unmarshal(params, &p)
	interval := time.Duration(p.Interval) * time.Millisecond
	if p.Interval == 0 && p.Freq > 0 {
		interval = time.Second / time.Duration(p.Freq)
	}
	if interval <= 0 {
		interval = time.Second
	}

	stop := make(chan struct{})
	d.mu.Lock()
	d.nextSubID++
	id := "sub-" + strconv.Itoa(d.nextSubID)
	d.subs[id] = &subscription{id: id, kind: "metrics", conn: conn, stop: stop}
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		level := -24.0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				level += 0.5
				conn.notify("metrics_update", map[string]any{
					"subscription_id": id,
					"metrics": map[string]any{
						"/audio/output/speaker/1/level": level,
						"/audio/output/speaker/2/level": level - 3,
					},
				})
			}
		}
	}()
	return map[string]any{"subscription_id": id}
}

func (d *Device) unsubscribe(params json.RawMessage) (any, *jrpc.RPCError) {
	var p struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if errp := decodeParams(params, &p); errp != nil {
		return nil, errp
	}
	d.mu.Lock()
	sub, ok := d.subs[p.SubscriptionID]
	if ok {
		if sub.stop != nil {
			close(sub.stop)
		}
		delete(d.subs, p.SubscriptionID)
	}
	d.mu.Unlock()
	if !ok {
		return nil, rpcError(-32000, "unknown subscription: %s", p.SubscriptionID)
	}
	return true, nil
}

func (d *Device) presetOp(method string, params json.RawMessage) (any, *jrpc.RPCError) {
	var p struct {
		Channel int            `json:"channel"`
		Name    string         `json:"name"`
		Preset  map[string]any `json:"preset"`
	}
	if errp := decodeParams(params, &p); errp != nil {
		return nil, errp
	}
	if p.Channel < 1 || p.Channel > 4 {
		return nil, rpcError(-32602, "invalid params: channel %d out of range", p.Channel)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	segs := []string{"audio", "output", "speaker", strconv.Itoa(p.Channel), "preset"}
	node, ok := resolvePath(d.setup, segs)
	if !ok {
		return nil, rpcError(-32000, "no preset subtree for channel %d", p.Channel)
	}
	preset := node.(map[string]any)

	switch method {
	case "preset_create":
		snap := deepcopy.Copy(preset).(map[string]any)
		if p.Name != "" {
			snap["name"] = p.Name
		}
		return map[string]any{"channel": p.Channel, "preset": snap}, nil
	case "preset_show":
		return deepcopy.Copy(preset), nil
	case "preset_clear":
		fresh := defaultSpeaker(p.Channel)["preset"].(map[string]any)
		if err := setPath(d.setup, segs[:len(segs)-1], map[string]any{"preset": fresh}); err != nil {
			return nil, rpcError(-32000, "%v", err)
		}
		return true, nil
	case "preset_apply":
		if p.Preset == nil {
			return nil, rpcError(-32602, "invalid params: preset required")
		}
		mergeTree(preset, p.Preset)
		preset["preset_customized"] = false
		return true, nil
	}
	return nil, rpcError(-32601, "method not found: %s", method)
}

func (c *deviceConn) notify(method string, params any) {
	c.writeJSON(map[string]any{
		"jsonrpc": jrpc.Version,
		"method":  method,
		"params":  params,
	})
}

func (c *deviceConn) writeJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.dev.log.WithError(err).Error("marshal outbound message")
		return
	}
	c.writeRaw(raw)
}

func (c *deviceConn) writeRaw(raw []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.dev.log.WithError(err).Debug("write to closed connection")
	}
}
