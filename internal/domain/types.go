package domain

import (
	"fmt"
	"strings"
	"time"
)

// AnonymousVoter is recorded when a submission carries no voter identity.
const AnonymousVoter = "anonymous"

// TimestampLayout renders poll timestamps on the wire with millisecond
// precision. REST responses and live updates use the same layout so a
// client can compare the two.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Option is one votable choice inside a poll. Votes only ever grows.
type Option struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

// Poll is the persisted poll state. Option IDs are unique within a poll and
// immutable after creation.
type Poll struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Options   []Option  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

// VoteEvent is the log payload produced once per accepted submission.
// Field names match the wire shape on the votes topic.
type VoteEvent struct {
	PollID    string    `json:"pollId"`
	OptionID  string    `json:"optionId"`
	VoterID   string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPoll builds a poll and rejects duplicate or blank option identities.
func NewPoll(id, title string, options []Option, createdAt time.Time) (Poll, error) {
	if strings.TrimSpace(id) == "" {
		return Poll{}, fmt.Errorf("poll id is required")
	}
	if strings.TrimSpace(title) == "" {
		return Poll{}, fmt.Errorf("poll title is required")
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if strings.TrimSpace(opt.ID) == "" {
			return Poll{}, fmt.Errorf("option id is required")
		}
		if _, ok := seen[opt.ID]; ok {
			return Poll{}, fmt.Errorf("duplicate option id %q", opt.ID)
		}
		seen[opt.ID] = struct{}{}
	}
	return Poll{
		ID:        id,
		Title:     title,
		Options:   append([]Option(nil), options...),
		CreatedAt: createdAt.UTC(),
	}, nil
}

// NewPollOptions assigns sequential option identities to raw option texts.
func NewPollOptions(texts []string) []Option {
	options := make([]Option, 0, len(texts))
	for i, text := range texts {
		options = append(options, Option{ID: fmt.Sprintf("option-%d", i+1), Text: text})
	}
	return options
}

func (p Poll) TotalVotes() int64 {
	var total int64
	for _, opt := range p.Options {
		total += opt.Votes
	}
	return total
}

func (p Poll) HasOption(optionID string) bool {
	for _, opt := range p.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// NewVoteEvent stamps a submission with the server clock. An empty voter
// identity becomes the anonymous marker.
func NewVoteEvent(pollID, optionID, voterID string, now time.Time) VoteEvent {
	if strings.TrimSpace(voterID) == "" {
		voterID = AnonymousVoter
	}
	return VoteEvent{
		PollID:    pollID,
		OptionID:  optionID,
		VoterID:   voterID,
		Timestamp: now.UTC(),
	}
}
