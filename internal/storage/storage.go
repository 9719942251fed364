package storage

import (
	"context"
	"errors"

	"pollstream/internal/domain"
)

var (
	ErrPollNotFound   = errors.New("poll not found")
	ErrOptionNotFound = errors.New("option not found")
)

// Store is the persistence contract for poll state. Each operation is atomic;
// the pipeline never spans a transaction across calls.
type Store interface {
	CreatePoll(ctx context.Context, title string, optionTexts []string) (domain.Poll, error)
	GetPoll(ctx context.Context, pollID string) (domain.Poll, error)
	ListPolls(ctx context.Context) ([]domain.Poll, error)
	// IncrementVote applies one vote event: the ledger row and the option
	// counter move together or not at all.
	IncrementVote(ctx context.Context, ev domain.VoteEvent) error
	// TopPolls ranks by descending total votes, ties broken by creation order.
	TopPolls(ctx context.Context, n int) ([]domain.Poll, error)
}
