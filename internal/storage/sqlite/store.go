package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pollstream/internal/domain"
	"pollstream/internal/storage"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS polls (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS options (
	poll_id TEXT NOT NULL REFERENCES polls(id),
	option_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	votes INTEGER NOT NULL DEFAULT 0 CHECK (votes >= 0),
	PRIMARY KEY (poll_id, option_id)
);

CREATE TABLE IF NOT EXISTS votes (
	poll_id TEXT NOT NULL,
	option_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	cast_at_utc_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_votes_poll ON votes(poll_id, option_id);

CREATE TRIGGER IF NOT EXISTS trg_votes_no_update
BEFORE UPDATE ON votes
BEGIN
	SELECT RAISE(ABORT, 'votes are append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_votes_no_delete
BEFORE DELETE ON votes
BEGIN
	SELECT RAISE(ABORT, 'votes are append-only: DELETE forbidden');
END;
`

type Store struct {
	db *sql.DB
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir base dir: %w", err)
	}
	db, err := openSQLite(filepath.Join(baseDir, "polls.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreatePoll(ctx context.Context, title string, optionTexts []string) (domain.Poll, error) {
	poll, err := domain.NewPoll(uuid.NewString(), title, domain.NewPollOptions(optionTexts), time.Now().UTC())
	if err != nil {
		return domain.Poll{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Poll{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO polls(id, title, created_at_utc_ns) VALUES(?, ?, ?)`,
		poll.ID, poll.Title, poll.CreatedAt.UnixNano()); err != nil {
		return domain.Poll{}, err
	}
	for i, opt := range poll.Options {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO options(poll_id, option_id, position, text, votes) VALUES(?, ?, ?, ?, 0)`,
			poll.ID, opt.ID, i, opt.Text); err != nil {
			return domain.Poll{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Poll{}, err
	}
	return poll, nil
}

func (s *Store) GetPoll(ctx context.Context, pollID string) (domain.Poll, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at_utc_ns FROM polls WHERE id = ?`, pollID)

	var poll domain.Poll
	var createdNs int64
	err := row.Scan(&poll.ID, &poll.Title, &createdNs)
	if err == sql.ErrNoRows {
		return domain.Poll{}, storage.ErrPollNotFound
	}
	if err != nil {
		return domain.Poll{}, err
	}
	poll.CreatedAt = time.Unix(0, createdNs).UTC()

	options, err := s.pollOptions(ctx, pollID)
	if err != nil {
		return domain.Poll{}, err
	}
	poll.Options = options
	return poll, nil
}

func (s *Store) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	ids, err := s.pollIDs(ctx, `SELECT id FROM polls ORDER BY created_at_utc_ns ASC`)
	if err != nil {
		return nil, err
	}
	return s.loadPolls(ctx, ids)
}

func (s *Store) IncrementVote(ctx context.Context, ev domain.VoteEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE options SET votes = votes + 1 WHERE poll_id = ? AND option_id = ?`,
		ev.PollID, ev.OptionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM polls WHERE id = ?`, ev.PollID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return storage.ErrPollNotFound
		}
		return storage.ErrOptionNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO votes(poll_id, option_id, user_id, cast_at_utc_ns) VALUES(?, ?, ?, ?)`,
		ev.PollID, ev.OptionID, ev.VoterID, ev.Timestamp.UTC().UnixNano()); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) TopPolls(ctx context.Context, n int) ([]domain.Poll, error) {
	ids, err := s.pollIDs(ctx, `
SELECT p.id
FROM polls p
LEFT JOIN options o ON o.poll_id = p.id
GROUP BY p.id
ORDER BY COALESCE(SUM(o.votes), 0) DESC, p.created_at_utc_ns ASC
LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	return s.loadPolls(ctx, ids)
}

func (s *Store) pollIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) loadPolls(ctx context.Context, ids []string) ([]domain.Poll, error) {
	polls := make([]domain.Poll, 0, len(ids))
	for _, id := range ids {
		poll, err := s.GetPoll(ctx, id)
		if err != nil {
			return nil, err
		}
		polls = append(polls, poll)
	}
	return polls, nil
}

func (s *Store) pollOptions(ctx context.Context, pollID string) ([]domain.Option, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT option_id, text, votes FROM options WHERE poll_id = ? ORDER BY position ASC`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []domain.Option
	for rows.Next() {
		var opt domain.Option
		if err := rows.Scan(&opt.ID, &opt.Text, &opt.Votes); err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
