package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, err := websocket.Dial(url, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscriber(t *testing.T, registry *Registry, topic string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count(topic) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber appeared for topic %q", topic)
}

func TestHandlerSubscribesToPollTopic(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry, &fakeRanker{}, 5, testLogger())
	srv := httptest.NewServer(Handler(registry, testLogger()))
	defer srv.Close()

	conn := dialWS(t, srv, "?pollId=p1")
	waitForSubscriber(t, registry, "p1")

	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 2))

	var raw string
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		t.Fatalf("receive: %v", err)
	}
	var msg struct {
		Type string      `json:"type"`
		Data pollPayload `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "POLL_UPDATE" || msg.Data.TotalVotes != 2 {
		t.Fatalf("unexpected frame: %s", raw)
	}
}

func TestHandlerDefaultsToLeaderboardTopic(t *testing.T) {
	registry := NewRegistry()
	srv := httptest.NewServer(Handler(registry, testLogger()))
	defer srv.Close()

	dialWS(t, srv, "")
	waitForSubscriber(t, registry, TopicLeaderboard)
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	registry := NewRegistry()
	srv := httptest.NewServer(Handler(registry, testLogger()))
	defer srv.Close()

	conn := dialWS(t, srv, "?pollId=p1")
	waitForSubscriber(t, registry, "p1")

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count("p1") == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection still registered after close")
}
