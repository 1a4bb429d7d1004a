package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/metrics"
	"chatbot-ai-pipeline/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AdminServer is the worker's operational HTTP surface: health, metrics,
// queue depth, job archive and tenant usage.
type AdminServer struct {
	queue   repository.JobQueue
	queues  []string
	archive repository.AIJobRepository
	usage   usecase.UsageUseCase
	apiKey  string
	log     *zerolog.Logger
	now     func() time.Time
}

func NewAdminServer(
	queue repository.JobQueue,
	queues []string,
	archive repository.AIJobRepository,
	usage usecase.UsageUseCase,
	apiKey string,
	logger *zerolog.Logger,
) *AdminServer {
	return &AdminServer{
		queue:   queue,
		queues:  queues,
		archive: archive,
		usage:   usage,
		apiKey:  apiKey,
		log:     logger,
		now:     time.Now,
	}
}

// Handler builds the router with the standard middleware chain.
func (s *AdminServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log), Timeout(10*time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/queues", s.listQueues)
		r.Get("/queues/{name}", s.getQueue)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/conversations/{id}/jobs", s.listConversationJobs)
		r.Get("/usage/{tenantID}", s.getUsage)
	})
	return r
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *AdminServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type queueStats struct {
	Name string `json:"name"`
	repository.QueueStats
}

func (s *AdminServer) listQueues(w http.ResponseWriter, r *http.Request) {
	out := make([]queueStats, 0, len(s.queues))
	for _, name := range s.queues {
		st, err := s.queue.Stats(r.Context(), name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, queueStats{Name: name, QueueStats: st})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) getQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !slices.Contains(s.queues, name) {
		http.Error(w, "unknown queue", http.StatusNotFound)
		return
	}
	st, err := s.queue.Stats(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueStats{Name: name, QueueStats: st})
}

func (s *AdminServer) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.archive.FindByID(r.Context(), repository.NoTX, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *AdminServer) listConversationJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jobs, err := s.archive.ListByConversation(r.Context(), repository.NoTX, chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// getUsage reports a tenant's usage. from/to are RFC3339; the default
// window is the last 24 hours.
func (s *AdminServer) getUsage(w http.ResponseWriter, r *http.Request) {
	to := s.now().UTC()
	from := to.Add(-24 * time.Hour)
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
	}
	rep, err := s.usage.Report(r.Context(), chi.URLParam(r, "tenantID"), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *AdminServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "invalid argument", http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("admin request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
