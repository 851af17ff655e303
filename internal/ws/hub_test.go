package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(10, false, testLogger())
	go hub.Run(ctx)

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dial(t, server)

	hub.BroadcastJSON(map[string]any{"type": "snapshot", "objects": 3})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got struct {
		Type    string `json:"type"`
		Objects int    `json:"objects"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "snapshot" || got.Objects != 3 {
		t.Errorf("message = %+v, want snapshot/3", got)
	}
}

func TestHubSendsLastSnapshotOnConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(10, false, testLogger())
	go hub.Run(ctx)

	hub.BroadcastJSON(map[string]string{"type": "snapshot"})

	// Wait until the Run loop has stored the frame.
	deadline := time.Now().Add(2 * time.Second)
	for hub.last.Load() == nil {
		if time.Now().After(deadline) {
			t.Fatal("broadcast never processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dial(t, server)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), "snapshot") {
		t.Errorf("initial frame = %s, want cached snapshot", msg)
	}
}

func TestHubPerIPLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(1, false, testLogger())
	go hub.Run(ctx)

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	dial(t, server)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second connection from same IP to be rejected")
	}
	if resp == nil || resp.StatusCode != 429 {
		t.Errorf("expected 429 rejection, got %+v", resp)
	}
}

// TestHubHandlerAfterShutdown: an upgrade arriving after Run has exited
// must release its connection slot and return instead of waiting on the
// register channel.
func TestHubHandlerAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(1, false, testLogger())
	go hub.Run(ctx)

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit")
	}

	// Saturate the register buffer the way piled-up upgrades would.
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			continue // 429 once the slot is held is fine
		}
		conn.Close()
	}

	// Every handler must have run to completion and given its slot back.
	deadline := time.Now().Add(2 * time.Second)
	for hub.limiter.count("127.0.0.1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection slots still held after shutdown: %d",
				hub.limiter.count("127.0.0.1"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnLimiter(t *testing.T) {
	l := newConnLimiter(2)

	if !l.acquire("1.2.3.4") || !l.acquire("1.2.3.4") {
		t.Fatal("first two acquires should succeed")
	}
	if l.acquire("1.2.3.4") {
		t.Error("third acquire from same IP should fail")
	}
	if !l.acquire("5.6.7.8") {
		t.Error("different IP should be unaffected")
	}

	l.release("1.2.3.4")
	if !l.acquire("1.2.3.4") {
		t.Error("acquire after release should succeed")
	}
	if l.count("1.2.3.4") != 2 {
		t.Errorf("count = %d, want 2", l.count("1.2.3.4"))
	}
}

func TestConnLimiterUnlimitedPerIP(t *testing.T) {
	l := newConnLimiter(0)
	for i := 0; i < 50; i++ {
		if !l.acquire("1.2.3.4") {
			t.Fatalf("acquire %d failed with per-IP limit disabled", i)
		}
	}
}
