package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clheure/relay/internal/portal"
	"clheure/relay/internal/schedule"
)

const (
	maxBodyBytes   = 64 << 10
	syncFailureMsg = "Login Failed or API Error"
)

type Syncer interface {
	Sync(ctx context.Context, req schedule.LoginRequest) (*portal.Lesson, error)
}

type Server struct {
	syncer   Syncer
	metrics  *metrics
	registry *prometheus.Registry
}

func NewServer(syncer Syncer) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		syncer:   syncer,
		metrics:  newMetrics(registry),
		registry: registry,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/sync", s.handleSync)

	return r
}

// Models

type syncRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	CAS      string `json:"cas"`
}

type syncResponse struct {
	Success   bool           `json:"success"`
	NextClass *portal.Lesson `json:"nextClass"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handlers

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.observe(outcomeInvalid, start)
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if blank(req.URL) || blank(req.Username) || req.Password == "" {
		s.metrics.observe(outcomeInvalid, start)
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	// The portal url is not validated here: a malformed one fails login and
	// is reported like any other login failure.
	lesson, err := s.syncer.Sync(r.Context(), schedule.LoginRequest{
		PortalURL:  req.URL,
		Username:   req.Username,
		Password:   req.Password,
		AuthMethod: strings.TrimSpace(req.CAS),
	})
	if err != nil {
		log.Printf("sync failed [%s]: %v", middleware.GetReqID(r.Context()), err)
		s.metrics.observe(failureOutcome(err), start)
		writeJSON(w, http.StatusUnauthorized, failureResponse{
			Success: false,
			Error:   syncFailureMsg,
			Message: err.Error(),
		})
		return
	}

	if lesson == nil {
		s.metrics.observe(outcomeEmpty, start)
	} else {
		s.metrics.observe(outcomeFound, start)
	}
	writeJSON(w, http.StatusOK, syncResponse{Success: true, NextClass: lesson})
}

func failureOutcome(err error) string {
	if errors.Is(err, portal.ErrAuthentication) {
		return outcomeLoginFailed
	}
	return outcomeRemoteFailed
}

func blank(value string) bool {
	return strings.TrimSpace(value) == ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, failureResponse{Success: false, Error: code})
}
