package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/level-leaderboard/internal/domain"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetTotalConnections() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func TestBroadcastPlayerUpdate(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, hub, srv)

	player := domain.PlayerSummary{Nickname: "Ada", TotalStars: 3, LevelsCompleted: 1}
	if err := hub.NotifyPlayerUpdate(context.Background(), player); err != nil {
		t.Fatalf("NotifyPlayerUpdate: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypePlayerUpdate {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypePlayerUpdate)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data: %#v", msg.Data)
	}
	if data["nickname"] != "Ada" || data["total_stars"] != float64(3) || data["levels_completed"] != float64(1) {
		t.Fatalf("unexpected player data: %v", data)
	}
}

func TestClientPing(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, hub, srv)

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("type = %q, want pong", msg.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("type = %q, want error", msg.Type)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, hub, srv)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetTotalConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastChannelFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger) // not running, so nothing drains the channel

	player := domain.PlayerSummary{Nickname: "Ada"}
	for i := 0; i < cap(hub.broadcast); i++ {
		if !hub.BroadcastPlayerUpdate(player) {
			t.Fatalf("broadcast %d rejected before channel was full", i)
		}
	}
	if err := hub.NotifyPlayerUpdate(context.Background(), player); err != ErrBroadcastFull {
		t.Fatalf("err = %v, want ErrBroadcastFull", err)
	}
}
