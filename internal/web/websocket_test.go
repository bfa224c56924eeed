package web

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/epoptis/internal/messaging"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWebSocketFeed(t *testing.T) {
	app := newTestApp(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.server.hub.Run(ctx)
	app.server.attachFeeds()

	wsURL := strings.Replace(app.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool {
		app.server.hub.mu.Lock()
		defer app.server.hub.mu.Unlock()
		return len(app.server.hub.clients) == 1
	})

	app.bus.Publish(messaging.Envelope{
		SenderRole: messaging.RolePlanner,
		Type:       messaging.TypeThought,
		TaskID:     "task-1",
		Payload:    messaging.Thought{Thought: "inspecting the page", Confidence: 0.7},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event struct {
		Type    string             `json:"type"`
		Payload messaging.Envelope `json:"payload"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != "message" {
		t.Errorf("expected message event, got %s", event.Type)
	}
	if event.Payload.TaskID != "task-1" {
		t.Errorf("expected task-1, got %s", event.Payload.TaskID)
	}
}

func TestWebSocketRunnerEvents(t *testing.T) {
	app := newTestApp(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.server.hub.Run(ctx)
	app.server.attachFeeds()

	wsURL := strings.Replace(app.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool {
		app.server.hub.mu.Lock()
		defer app.server.hub.mu.Unlock()
		return len(app.server.hub.clients) == 1
	})

	app.createSession(t, "buy a widget")

	// Session creation publishes agent status updates on the bus and a
	// session_created runner event; read until the latter shows up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("session_created event never arrived: %v", err)
		}
		var event struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type == "session_created" {
			return
		}
	}
}
