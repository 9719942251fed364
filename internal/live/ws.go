package live

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// writeTimeout bounds a single frame write. A peer that stops reading makes
// Send fail instead of holding the write mutex indefinitely.
const writeTimeout = 10 * time.Second

type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(p.conn, string(payload))
}

// Handler upgrades a live connection and pins it to one topic for its
// lifetime: the pollId query parameter, or the leaderboard feed when none is
// given. The subscription is released as soon as the connection closes or
// errors.
func Handler(registry *Registry, logger *slog.Logger) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		topic := conn.Request().URL.Query().Get("pollId")
		if topic == "" {
			topic = TopicLeaderboard
		}

		peer := &wsPeer{conn: conn}
		registry.Subscribe(peer, topic)
		logger.Info("client subscribed", "topic", topic, "remote", conn.Request().RemoteAddr)
		defer func() {
			registry.Unsubscribe(peer, topic)
			logger.Info("client unsubscribed", "topic", topic, "remote", conn.Request().RemoteAddr)
		}()

		// Inbound frames are not part of the protocol; reading just
		// detects close and errors.
		for {
			var discard string
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	})
}
