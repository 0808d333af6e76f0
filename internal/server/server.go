// internal/server/server.go
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/photostream/internal/metrics"
	"github.com/user/photostream/internal/scheduler"
	"github.com/user/photostream/internal/types"
	"github.com/user/photostream/pkg/photostream"
)

// Status is the listener state reported by GET /api/status.
type Status struct {
	Connected bool            `json:"connected"`
	State     string          `json:"state"`
	SessionID types.SessionID `json:"session_id,omitempty"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Listeners []string        `json:"listeners,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

// StatusFunc reports the current listener state.
type StatusFunc func() Status

// JobsFunc lists scheduled jobs.
type JobsFunc func() []scheduler.Entry

// Server is the read-only status API of a running listener.
type Server struct {
	cache   photostream.CacheStore
	journal types.Journal
	status  StatusFunc
	jobs    JobsFunc
	router  chi.Router
}

// New creates a Server. Any of cache, journal, status or jobs may be nil;
// their routes then answer 503.
func New(cache photostream.CacheStore, journal types.Journal, status StatusFunc, jobs JobsFunc) *Server {
	s := &Server{
		cache:   cache,
		journal: journal,
		status:  status,
		jobs:    jobs,
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/images", s.handleImages)
		r.Get("/images/{id}", s.handleImage)
		r.Get("/journal", s.handleSessions)
		r.Get("/journal/{session}", s.handleJournal)
		r.Get("/jobs", s.handleJobs)
	})
	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, `{"error":"status not configured"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.status())
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, `{"error":"cache not configured"}`, http.StatusServiceUnavailable)
		return
	}
	entries, err := s.cache.List(r.Context())
	if err != nil {
		slog.Error("list cache failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*photostream.CacheEntry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, `{"error":"cache not configured"}`, http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid photo id"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	meta, err := s.cache.Meta(ctx, id)
	if err == nil {
		var data []byte
		data, err = s.cache.Image(ctx, id)
		if err == nil {
			w.Header().Set("Content-Type", meta.ContentType())
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("ETag", `"`+meta.SHA256+`"`)
			w.Write(data)
			return
		}
	}
	if errors.Is(err, photostream.ErrNotCached) {
		http.Error(w, `{"error":"image not cached"}`, http.StatusNotFound)
		return
	}
	slog.Error("read cached image failed", "photo_id", id, "error", err)
	http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, `{"error":"journal not configured"}`, http.StatusServiceUnavailable)
		return
	}
	sessions, err := s.journal.Sessions(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.SessionInfo{}
	}
	writeJSON(w, sessions)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, `{"error":"journal not configured"}`, http.StatusServiceUnavailable)
		return
	}
	sessionID := types.SessionID(chi.URLParam(r, "session"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.journal.Tail(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("tail journal failed", "session_id", sessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, events)
}

type jobResponse struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Next     *time.Time `json:"next,omitempty"`
	Prev     *time.Time `json:"prev,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	var entries []scheduler.Entry
	if s.jobs != nil {
		entries = s.jobs()
	}
	result := make([]jobResponse, 0, len(entries))
	for _, e := range entries {
		job := jobResponse{Name: e.Name, Schedule: e.Schedule}
		if !e.Next.IsZero() {
			next := e.Next
			job.Next = &next
		}
		if !e.Prev.IsZero() {
			prev := e.Prev
			job.Prev = &prev
		}
		result = append(result, job)
	}
	writeJSON(w, result)
}
