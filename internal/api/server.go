// Package api is the HTTP admin interface: live channels, call records,
// digit collections, recordings and the loaded dialplan.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/netdevpbx/netdevpbx/internal/api/middleware"
	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/dialplan"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

// ChannelDirectory lists live channels. *session.Manager implements it.
type ChannelDirectory interface {
	List() []*session.Channel
	Get(id string) (*session.Channel, bool)
	Count() int
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Channels ChannelDirectory
	Store    *database.Store
	Dialplan *dialplan.Executor
	Metrics  http.Handler              // served at /metrics when set
	Limiter  *middleware.ClientLimiter // nil disables rate limiting
	Token    string                    // bearer token; empty disables auth
	Logger   *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	deps      Deps
	startedAt time.Time
	logger    *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		startedAt: time.Now(),
		logger:    deps.Logger.With("component", "api"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger, "/metrics", "/api/v1/health"))
	r.Use(middleware.Recoverer(s.logger))
	if s.deps.Limiter != nil {
		r.Use(middleware.RateLimit(s.deps.Limiter, s.logger))
	}

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerToken(s.deps.Token, s.logger))

			r.Route("/channels", func(r chi.Router) {
				r.Get("/", s.handleListChannels)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetChannel)
					r.Delete("/", s.handleHangupChannel)
					r.Post("/dtmf", s.handleSendDTMF)
				})
			})

			r.Get("/calls", s.handleListCalls)

			r.Route("/collections", func(r chi.Router) {
				r.Get("/", s.handleListCollections)
				r.Get("/summary", s.handleCollectionSummary)
			})

			r.Route("/recordings", func(r chi.Router) {
				r.Get("/", s.handleListRecordings)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRecording)
					r.Get("/audio", s.handleRecordingAudio)
				})
			})

			r.Get("/applications", s.handleListApplications)
			r.Get("/dialplan", s.handleGetDialplan)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

type healthResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveChannels int    `json:"active_channels"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveChannels: s.deps.Channels.Count(),
	})
}
