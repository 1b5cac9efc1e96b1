// Package server exposes the small admin HTTP surface named in
// SPEC_FULL.md §5: a liveness probe, the Prometheus scrape endpoint, and
// two read-only debug endpoints over the cache engine and refresh
// history. It never serves the tool protocol itself — that lives in
// internal/toolproto — this is operator-facing only.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/cache"
	"github.com/wscache/wscache/internal/refresh"
)

// Server wires the admin routes to an *cache.Engine and *refresh.Orchestrator.
// Its route-table-over-mux shape generalizes the teacher's single-purpose
// debug mux into the small REST surface this spec calls for.
type Server struct {
	engine       *cache.Engine
	orchestrator *refresh.Orchestrator
	log          zerolog.Logger

	router *mux.Router
}

// New builds a Server and registers its routes.
func New(engine *cache.Engine, orchestrator *refresh.Orchestrator, log zerolog.Logger) *Server {
	s := &Server{
		engine:       engine,
		orchestrator: orchestrator,
		log:          log.With().Str("component", "server").Logger(),
		router:       mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/search", s.handleDebugSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/refreshes", s.handleDebugRefreshes).Methods(http.MethodGet)
}

// ServeHTTP satisfies http.Handler so callers can hand a Server directly
// to http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthzResponse struct {
	Status        string `json:"status"`
	UsersCount    int    `json:"users_count"`
	ChannelsCount int    `json:"channels_count"`
}

// handleHealthz reports liveness plus the current row counts, so an
// operator can see at a glance whether the cache was ever populated
// without reaching for the debug endpoints.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	usersCount, err := s.engine.Users.Count(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	channelsCount, err := s.engine.Channels.Count(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, healthzResponse{
		Status:        "ok",
		UsersCount:    usersCount,
		ChannelsCount: channelsCount,
	})
}

type debugSearchResponse struct {
	Entity  string `json:"entity"`
	Query   string `json:"query"`
	Users   []cache.User    `json:"users,omitempty"`
	Channels []cache.Channel `json:"channels,omitempty"`
}

// handleDebugSearch runs the same two-phase search the tool protocol uses,
// against either entity, for operators diagnosing ranking questions
// without going through the protocol layer.
func (s *Server) handleDebugSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entity := q.Get("entity")
	query := q.Get("query")
	limit := 20
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := r.Context()
	resp := debugSearchResponse{Entity: entity, Query: query}

	switch entity {
	case "users":
		users, err := s.engine.Users.Search(ctx, query, limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Users = users
	case "channels":
		channels, err := s.engine.Channels.Search(ctx, query, limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Channels = channels
	default:
		http.Error(w, "entity must be \"users\" or \"channels\"", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type refreshAttemptResponse struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	StartedAt time.Time `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`
	Count     int       `json:"count"`
	Error     string    `json:"error,omitempty"`
}

// handleDebugRefreshes returns the in-memory refresh history, most
// recent last, for operators checking whether a scheduled refresh ran
// and what it found.
func (s *Server) handleDebugRefreshes(w http.ResponseWriter, r *http.Request) {
	history := s.orchestrator.History()
	out := make([]refreshAttemptResponse, len(history))
	for i, a := range history {
		resp := refreshAttemptResponse{
			ID:         a.ID,
			Entity:     a.Entity,
			StartedAt:  a.StartedAt,
			DurationMS: a.Duration.Milliseconds(),
			Count:      a.Count,
		}
		if a.Err != nil {
			resp.Error = a.Err.Error()
		}
		out[i] = resp
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("write response body failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn().Err(err).Msg("admin request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
