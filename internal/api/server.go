package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"pollstream/internal/domain"
	"pollstream/internal/storage"

	"github.com/go-chi/chi/v5"
)

// VoteSubmitter is the only entry point the pipeline exposes to the request
// layer. A nil error means the vote was accepted, not that it was counted.
type VoteSubmitter interface {
	SubmitVote(ctx context.Context, pollID, optionID, voterID string) error
}

type Server struct {
	store  storage.Store
	votes  VoteSubmitter
	topN   int
	logger *slog.Logger
}

func NewServer(store storage.Store, votes VoteSubmitter, topN int, logger *slog.Logger) *Server {
	return &Server{store: store, votes: votes, topN: topN, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleHealth)
	r.Route("/polls", func(r chi.Router) {
		r.Post("/", s.handleCreatePoll)
		r.Get("/", s.handleListPolls)
		r.Get("/{id}", s.handleGetPoll)
		r.Post("/{id}/vote", s.handleVote)
	})
	r.Get("/leaderboard", s.handleLeaderboard)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "polling API is running"})
}

type createPollRequest struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || len(req.Options) < 2 {
		writeError(w, http.StatusBadRequest, "poll must have a title and at least 2 options")
		return
	}

	poll, err := s.store.CreatePoll(r.Context(), req.Title, req.Options)
	if err != nil {
		s.logger.Error("create poll", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, pollResponse(poll))
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	polls, err := s.store.ListPolls(r.Context())
	if err != nil {
		s.logger.Error("list polls", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]map[string]any, 0, len(polls))
	for _, poll := range polls {
		out = append(out, pollResponse(poll))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	poll, err := s.store.GetPoll(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrPollNotFound) {
		writeError(w, http.StatusNotFound, "no poll found")
		return
	}
	if err != nil {
		s.logger.Error("get poll", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, pollResponse(poll))
}

type voteRequest struct {
	OptionID string `json:"optionId"`
	VoterID  string `json:"userId"`
}

// handleVote acknowledges the submission as soon as the event is appended to
// the log. Whether the vote is ultimately counted is decided asynchronously
// by the consumer; the ack is decoupled from application on purpose.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, "id")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "optionId is required")
		return
	}

	if _, err := s.store.GetPoll(r.Context(), pollID); err != nil {
		if errors.Is(err, storage.ErrPollNotFound) {
			writeError(w, http.StatusNotFound, "no poll found")
			return
		}
		s.logger.Error("poll lookup before vote", "poll_id", pollID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := s.votes.SubmitVote(r.Context(), pollID, req.OptionID, req.VoterID); err != nil {
		s.logger.Error("vote append failed", "poll_id", pollID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "vote log unavailable, retry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "vote submitted",
		"pollId":   pollID,
		"optionId": req.OptionID,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := s.topN
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	polls, err := s.store.TopPolls(r.Context(), limit)
	if err != nil {
		s.logger.Error("leaderboard query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entries := make([]map[string]any, 0, len(polls))
	for _, poll := range polls {
		entries = append(entries, map[string]any{
			"id":         poll.ID,
			"title":      poll.Title,
			"totalVotes": poll.TotalVotes(),
			"topOption":  topOption(poll),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func topOption(poll domain.Poll) *domain.Option {
	var top *domain.Option
	for i := range poll.Options {
		if top == nil || poll.Options[i].Votes > top.Votes {
			top = &poll.Options[i]
		}
	}
	return top
}

func pollResponse(poll domain.Poll) map[string]any {
	return map[string]any{
		"id":         poll.ID,
		"title":      poll.Title,
		"options":    poll.Options,
		"totalVotes": poll.TotalVotes(),
		"createdAt":  poll.CreatedAt.Format(domain.TimestampLayout),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
