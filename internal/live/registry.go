package live

import "sync"

// TopicLeaderboard is the reserved topic for connections that did not pick a
// poll at connect time.
const TopicLeaderboard = "leaderboard"

// Conn is the transport-side write surface of a live connection. The
// registry owns the connection-to-topic mapping, never the connection's I/O
// lifecycle.
type Conn interface {
	Send(payload []byte) error
}

// Registry maps interest topics to live connections. Empty topic entries are
// pruned immediately so memory is bounded by live connections, not
// historical ones.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]map[Conn]struct{})}
}

func (r *Registry) Subscribe(c Conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[Conn]struct{})
		r.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

func (r *Registry) Unsubscribe(c Conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// Subscribers returns a snapshot of the connections subscribed to topic.
// Sending happens outside the registry lock, so one stalled connection can
// never block subscribe/unsubscribe or broadcasts for other topics. A
// connection removed after the snapshot at worst gets one failed send,
// which the caller's skip-on-error path tolerates.
func (r *Registry) Subscribers(topic string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.topics[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
