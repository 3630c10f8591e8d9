// Package api exposes the read-only HTTP API over challenge state.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"example.com/sockathon/internal/auth"
	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/localday"
)

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

// Handler serves API requests from the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /v1/participants/{id}/coded-seconds", h.requireRead(h.codedSeconds))
	mux.HandleFunc("GET /v1/teams/{id}", h.requireRead(h.team))
	mux.HandleFunc("GET /v1/leaderboard", h.requireRead(h.leaderboard))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) requireRead(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !claims.HasScope(auth.ScopeRead) {
			writeError(w, http.StatusForbidden, "forbidden", "scope "+auth.ScopeRead+" required")
			return
		}
		next(w, r)
	}
}

func (h *Handler) codedSeconds(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	query := r.URL.Query()
	from, err := localday.ParseDate(query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "from must be a YYYY-MM-DD date")
		return
	}
	to := from
	if raw := query.Get("to"); raw != "" {
		if to, err = localday.ParseDate(raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "to must be a YYYY-MM-DD date")
			return
		}
	}

	total, err := h.service.CodedSecondsTotal(r.Context(), participantID, from, to)
	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "validation_failed", "to must not be before from")
		return
	case errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, "not_found", "participant not found")
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CodedSecondsResponse{
		ParticipantID: participantID,
		From:          from.Format(localday.DateLayout),
		To:            to.Format(localday.DateLayout),
		CodedSeconds:  total,
	})
}

func (h *Handler) team(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || teamID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "team id must be a positive integer")
		return
	}

	status, err := h.service.GetTeamStatus(r.Context(), teamID)
	if err != nil {
		if errors.Is(err, domain.ErrTeamNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "team not found")
			return
		}
		h.serverError(w, r, err)
		return
	}

	resp := TeamView{
		TeamID:       status.Team.ID,
		Name:         status.Team.Name,
		State:        string(status.Team.State()),
		EliminatedAt: status.Team.EliminatedAt,
		Members:      make([]MemberView, 0, len(status.Members)),
	}
	for _, p := range status.Members {
		resp.Members = append(resp.Members, MemberView{
			ParticipantID: p.ID,
			Username:      p.Username,
			TZLabel:       p.TZLabel,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxLeaderboardLimit)
		}
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	resp := LeaderboardResponse{Items: make([]LeaderboardView, 0, len(entries))}
	for i, e := range entries {
		state := domain.TeamStateActive
		if e.EliminatedAt != nil {
			state = domain.TeamStateFailed
		}
		resp.Items = append(resp.Items, LeaderboardView{
			Rank:         i + 1,
			TeamID:       e.TeamID,
			TeamName:     e.TeamName,
			CodedSeconds: e.CodedSeconds,
			Members:      e.Members,
			State:        string(state),
			EliminatedAt: e.EliminatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

// CodedSecondsResponse is the body of GET /v1/participants/{id}/coded-seconds.
type CodedSecondsResponse struct {
	ParticipantID string `json:"participant_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	CodedSeconds  int64  `json:"coded_seconds"`
}

// MemberView is a team member as exposed by the API.
type MemberView struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	TZLabel       string `json:"tz_label,omitempty"`
}

// TeamView is the body of GET /v1/teams/{id}.
type TeamView struct {
	TeamID       int64        `json:"team_id"`
	Name         string       `json:"name"`
	State        string       `json:"state"`
	EliminatedAt *time.Time   `json:"eliminated_at,omitempty"`
	Members      []MemberView `json:"members"`
}

// LeaderboardView is one ranked team.
type LeaderboardView struct {
	Rank         int        `json:"rank"`
	TeamID       int64      `json:"team_id"`
	TeamName     string     `json:"team_name"`
	CodedSeconds int64      `json:"coded_seconds"`
	Members      int        `json:"members"`
	State        string     `json:"state"`
	EliminatedAt *time.Time `json:"eliminated_at,omitempty"`
}

// LeaderboardResponse is the body of GET /v1/leaderboard.
type LeaderboardResponse struct {
	Items []LeaderboardView `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
