package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pollstream/internal/domain"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

type fakeRanker struct {
	mu    sync.Mutex
	polls []domain.Poll
	err   error
	calls int
}

func (r *fakeRanker) TopPolls(context.Context, int) ([]domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.polls, r.err
}

func (r *fakeRanker) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPoll(id string, votes int64) domain.Poll {
	poll, _ := domain.NewPoll(id, "title "+id, []domain.Option{
		{ID: "option-1", Text: "a", Votes: votes},
		{ID: "option-2", Text: "b"},
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return poll
}

func TestBroadcastDeliversExactlyOncePerSubscriber(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry, &fakeRanker{}, 5, testLogger())

	first := &fakeConn{}
	second := &fakeConn{}
	other := &fakeConn{}
	registry.Subscribe(first, "p1")
	registry.Subscribe(second, "p1")
	registry.Subscribe(other, "p2")

	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 3))

	for _, c := range []*fakeConn{first, second} {
		msgs := c.messages()
		if len(msgs) != 1 {
			t.Fatalf("subscriber got %d messages, want 1", len(msgs))
		}
		var msg struct {
			Type string      `json:"type"`
			Data pollPayload `json:"data"`
		}
		if err := json.Unmarshal(msgs[0], &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != "POLL_UPDATE" {
			t.Fatalf("type = %q", msg.Type)
		}
		if msg.Data.ID != "p1" || msg.Data.TotalVotes != 3 {
			t.Fatalf("unexpected payload: %+v", msg.Data)
		}
	}
	if len(other.messages()) != 0 {
		t.Fatalf("subscriber of another poll must not receive the update")
	}
}

func TestBroadcastSkipsUnwritableConnection(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry, &fakeRanker{}, 5, testLogger())

	broken := &fakeConn{sendErr: errors.New("connection reset")}
	healthy := &fakeConn{}
	registry.Subscribe(broken, "p1")
	registry.Subscribe(healthy, "p1")

	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 1))

	if len(healthy.messages()) != 1 {
		t.Fatalf("one bad connection must not block the rest")
	}
}

func TestUnsubscribedConnectionGetsNothing(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry, &fakeRanker{}, 5, testLogger())

	conn := &fakeConn{}
	registry.Subscribe(conn, "p1")
	registry.Unsubscribe(conn, "p1")

	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 1))

	if len(conn.messages()) != 0 {
		t.Fatalf("removed connection received a broadcast")
	}
	if registry.Count("p1") != 0 {
		t.Fatalf("empty topic entry should be pruned")
	}
}

func TestLeaderboardSkippedWithoutSubscribers(t *testing.T) {
	registry := NewRegistry()
	ranker := &fakeRanker{}
	hub := NewHub(registry, ranker, 5, testLogger())

	registry.Subscribe(&fakeConn{}, "p1")
	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 1))

	if ranker.callCount() != 0 {
		t.Fatalf("leaderboard recompute ran with zero subscribers")
	}
}

func TestLeaderboardBroadcastPreservesRankOrder(t *testing.T) {
	registry := NewRegistry()
	ranker := &fakeRanker{polls: []domain.Poll{testPoll("p2", 9), testPoll("p1", 4)}}
	hub := NewHub(registry, ranker, 5, testLogger())

	watcher := &fakeConn{}
	registry.Subscribe(watcher, TopicLeaderboard)

	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 4))

	msgs := watcher.messages()
	if len(msgs) != 1 {
		t.Fatalf("leaderboard watcher got %d messages, want 1", len(msgs))
	}
	var msg struct {
		Type string        `json:"type"`
		Data []pollPayload `json:"data"`
	}
	if err := json.Unmarshal(msgs[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "LEADERBOARD_UPDATE" {
		t.Fatalf("type = %q", msg.Type)
	}
	if len(msg.Data) != 2 || msg.Data[0].ID != "p2" || msg.Data[1].ID != "p1" {
		t.Fatalf("rank order not preserved: %+v", msg.Data)
	}
}

func TestLeaderboardRecomputeFailureIsIsolated(t *testing.T) {
	registry := NewRegistry()
	ranker := &fakeRanker{err: errors.New("store down")}
	hub := NewHub(registry, ranker, 5, testLogger())

	watcher := &fakeConn{}
	viewer := &fakeConn{}
	registry.Subscribe(watcher, TopicLeaderboard)
	registry.Subscribe(viewer, "p1")

	hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 1))

	if len(viewer.messages()) != 1 {
		t.Fatalf("poll update must still deliver when ranking fails")
	}
	if len(watcher.messages()) != 0 {
		t.Fatalf("no leaderboard message expected on recompute failure")
	}
}

// blockingConn stalls every Send until release is closed, standing in for a
// peer whose TCP window is full.
type blockingConn struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingConn) Send([]byte) error {
	close(c.entered)
	<-c.release
	return nil
}

func TestStalledConnectionDoesNotBlockRegistryOrOtherTopics(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry, &fakeRanker{}, 5, testLogger())

	stalled := &blockingConn{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(stalled.release)
	bystander := &fakeConn{}
	viewer := &fakeConn{}
	registry.Subscribe(stalled, "p1")
	registry.Subscribe(bystander, "p1")
	registry.Subscribe(viewer, "p2")

	go hub.BroadcastPollUpdate(context.Background(), testPoll("p1", 1))
	<-stalled.entered

	done := make(chan struct{})
	go func() {
		registry.Unsubscribe(bystander, "p1")
		hub.BroadcastPollUpdate(context.Background(), testPoll("p2", 2))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("a stalled send held up unsubscribe or another topic's broadcast")
	}
	if len(viewer.messages()) != 1 {
		t.Fatalf("p2 subscriber got %d messages, want 1", len(viewer.messages()))
	}
}

func TestConcurrentSubscribeAndBroadcast(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry, &fakeRanker{}, 5, testLogger())
	poll := testPoll("p1", 1)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			registry.Subscribe(c, "p1")
			registry.Unsubscribe(c, "p1")
		}()
		go func() {
			defer wg.Done()
			hub.BroadcastPollUpdate(context.Background(), poll)
		}()
	}
	wg.Wait()
}
