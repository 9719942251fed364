package live

import (
	"context"
	"encoding/json"
	"log/slog"

	"pollstream/internal/domain"
)

const (
	messageTypePollUpdate        = "POLL_UPDATE"
	messageTypeLeaderboardUpdate = "LEADERBOARD_UPDATE"
)

// Ranker recomputes the leaderboard. It is an interface so the per-vote
// recompute can later be replaced by incremental maintenance without
// touching the hub's contract.
type Ranker interface {
	TopPolls(ctx context.Context, n int) ([]domain.Poll, error)
}

type pollPayload struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Options    []domain.Option `json:"options"`
	TotalVotes int64           `json:"totalVotes"`
	CreatedAt  string          `json:"createdAt"`
}

type updateMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encodePoll(poll domain.Poll) pollPayload {
	return pollPayload{
		ID:         poll.ID,
		Title:      poll.Title,
		Options:    poll.Options,
		TotalVotes: poll.TotalVotes(),
		CreatedAt:  poll.CreatedAt.Format(domain.TimestampLayout),
	}
}

// Hub fans poll state updates out to subscribed connections and keeps the
// leaderboard feed fresh.
type Hub struct {
	registry *Registry
	ranker   Ranker
	topN     int
	logger   *slog.Logger
}

func NewHub(registry *Registry, ranker Ranker, topN int, logger *slog.Logger) *Hub {
	return &Hub{registry: registry, ranker: ranker, topN: topN, logger: logger}
}

// BroadcastPollUpdate sends the poll's full current state to every
// subscriber of its topic, then refreshes the leaderboard feed. A
// non-writable connection is skipped; it must not block delivery to the
// rest.
func (h *Hub) BroadcastPollUpdate(ctx context.Context, poll domain.Poll) {
	payload, err := json.Marshal(updateMessage{Type: messageTypePollUpdate, Data: encodePoll(poll)})
	if err != nil {
		h.logger.Error("encode poll update", "poll_id", poll.ID, "error", err)
		return
	}
	h.send(poll.ID, payload)

	h.refreshLeaderboard(ctx)
}

// refreshLeaderboard is best-effort: with no subscribers the ranking query
// is skipped entirely, and a failed recompute only logs.
func (h *Hub) refreshLeaderboard(ctx context.Context) {
	if h.registry.Count(TopicLeaderboard) == 0 {
		return
	}

	polls, err := h.ranker.TopPolls(ctx, h.topN)
	if err != nil {
		h.logger.Error("leaderboard recompute failed", "error", err)
		return
	}

	ranked := make([]pollPayload, 0, len(polls))
	for _, poll := range polls {
		ranked = append(ranked, encodePoll(poll))
	}
	payload, err := json.Marshal(updateMessage{Type: messageTypeLeaderboardUpdate, Data: ranked})
	if err != nil {
		h.logger.Error("encode leaderboard update", "error", err)
		return
	}
	h.send(TopicLeaderboard, payload)
}

// send delivers payload to a snapshot of the topic's subscribers, taken so
// the registry lock is never held across a write.
func (h *Hub) send(topic string, payload []byte) {
	for _, c := range h.registry.Subscribers(topic) {
		if err := c.Send(payload); err != nil {
			h.logger.Debug("skipping unwritable connection", "topic", topic, "error", err)
		}
	}
}
