package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// NOTE: The hub tests focus on fanout and slow-client disconnection without
// standing up a real websocket server. Clients get a nil websocket.Conn; the
// hub guards against nil when it closes a connection.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := &Client{hub: hub, send: make(chan []byte, 4), remoteAddr: "c1", logger: slog.Default()}
	c2 := &Client{hub: hub, send: make(chan []byte, 4), remoteAddr: "c2", logger: slog.Default()}
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	if n := clientCount(hub); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}

	msg := []byte(`{"type":"sound","data":{"cue":"lower"}}`)

	// BroadcastBytes is non-blocking and may drop; feed the hub loop directly.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
	if n := clientCount(hub); n != 0 {
		t.Fatalf("expected clients closed on shutdown, got %d", n)
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	slow := &Client{hub: hub, send: make(chan []byte, 1), remoteAddr: "slow", logger: slog.Default()}
	fast := &Client{hub: hub, send: make(chan []byte, 8), remoteAddr: "fast", logger: slog.Default()}
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// Pre-fill the slow client's buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"mode","data":{"mode":"playing"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestConvertBroadcast_WireTypes(t *testing.T) {
	tests := []struct {
		in       StateBroadcast
		wantType string
		wantData string
	}{
		{BroadcastSound{Cue: "higher"}, "sound", `{"cue":"higher"}`},
		{BroadcastPulse{ID: 3, Duration: 0.5, Symbol: SymbolCircleFilled, Color: ColorGreen}, "pulse",
			`{"id":3,"duration":0.5,"symbol":"circle_filled","color":"green"}`},
		{BroadcastPulseAlpha{ID: 3, Alpha: 0.25}, "pulse_alpha", `{"id":3,"alpha":0.25}`},
		{BroadcastSymbol{Symbol: SymbolStar, Visible: false}, "symbol", `{"symbol":"star","visible":false}`},
		{BroadcastMode{Mode: ModeSubmitting, Stage: 1, Correct: 1, Strikes: 2}, "mode",
			`{"mode":"submitting","stage":1,"correct":1,"strikes":2}`},
		{BroadcastHaptic{Strength: 0.5}, "haptic", `{"strength":0.5}`},
	}
	for _, tt := range tests {
		ev, ok := convertBroadcast(tt.in)
		if !ok {
			t.Fatalf("%T: expected conversion", tt.in)
		}
		if ev.Type != tt.wantType {
			t.Fatalf("%T: expected type %q, got %q", tt.in, tt.wantType, ev.Type)
		}
		b, err := json.Marshal(ev.Data)
		if err != nil {
			t.Fatalf("%T: marshal: %v", tt.in, err)
		}
		if string(b) != tt.wantData {
			t.Fatalf("%T: expected %s, got %s", tt.in, tt.wantData, b)
		}
	}
}

func readEnvelopeType(t *testing.T, ch chan []byte) (string, json.RawMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal %s: %v", msg, err)
		}
		return env.Type, env.Data
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for broadcast")
		return "", nil
	}
}

func TestRunBroadcaster_CoalescesPulseAlpha(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 16, 16)
	go hub.Run(ctx)
	c := &Client{hub: hub, send: make(chan []byte, 16), remoteAddr: "renderer", logger: slog.Default()}
	registerClient(t, hub, c)

	src := make(chan StateBroadcast, 16)
	go RunBroadcaster(ctx, hub, src, slog.Default())

	src <- BroadcastPulse{ID: 1, Duration: 1, Symbol: SymbolPlayFilled, Color: ColorWhite}
	src <- BroadcastPulseAlpha{ID: 1, Alpha: 0.9}
	src <- BroadcastPulseAlpha{ID: 1, Alpha: 0.8}
	src <- BroadcastPulseAlpha{ID: 1, Alpha: 0.7}
	src <- BroadcastSound{Cue: "good"}

	if typ, _ := readEnvelopeType(t, c.send); typ != "pulse" {
		t.Fatalf("expected pulse first, got %q", typ)
	}
	typ, data := readEnvelopeType(t, c.send)
	if typ != "pulse_alpha" {
		t.Fatalf("expected a single coalesced pulse_alpha, got %q", typ)
	}
	var alpha wsPulseAlphaData
	if err := json.Unmarshal(data, &alpha); err != nil {
		t.Fatalf("unmarshal alpha: %v", err)
	}
	if alpha.Alpha != 0.7 {
		t.Fatalf("expected the latest alpha 0.7, got %v", alpha.Alpha)
	}
	if typ, _ := readEnvelopeType(t, c.send); typ != "sound" {
		t.Fatalf("expected sound after the flushed fade, got %q", typ)
	}
}

func TestClient_HandleInboundForwardsButtonOnly(t *testing.T) {
	events := make(chan Event, 4)
	c := &Client{events: events, remoteAddr: "pad", logger: slog.Default()}

	c.handleInbound([]byte(`{"type":"press"}`))
	c.handleInbound([]byte(`{"type":"solve"}`))
	c.handleInbound([]byte(`garbage`))
	c.handleInbound([]byte(`{"type":"release"}`))

	if len(events) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(events))
	}
	if _, ok := (<-events).(Press); !ok {
		t.Fatalf("expected Press first")
	}
	if _, ok := (<-events).(Release); !ok {
		t.Fatalf("expected Release second")
	}
}

func TestServer_StateInitAndInboundPress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 8)
	srv := NewServer(slog.Default(), events, ServerConfig{})
	go srv.Hub().Run(ctx)

	mux := http.NewServeMux()
	srv.Register(mux, "/ws")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// Stand-in for the daemon loop: answer the snapshot request, pass the rest through.
	forwarded := make(chan Event, 8)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- StateSnapshot{ModuleID: 1, Mode: ModeIdle}
					continue
				}
				forwarded <- ev
			}
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type string        `json:"type"`
		Data StateSnapshot `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	if env.Type != "state_init" || env.Data.ModuleID != 1 {
		t.Fatalf("unexpected first message %+v", env)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"press"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case ev := <-forwarded:
		if _, ok := ev.(Press); !ok {
			t.Fatalf("expected Press, got %T", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for the press to reach the daemon")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func clientCount(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
