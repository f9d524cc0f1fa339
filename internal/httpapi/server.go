// Package httpapi is the HTTP backend the reader app talks to.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/catalog"
	"github.com/roach88/storygate/internal/config"
	"github.com/roach88/storygate/internal/ident"
	"github.com/roach88/storygate/internal/metrics"
	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/story"
)

// Store is the read side of the catalog and ledger used by handlers.
type Store interface {
	ListForDate(ctx context.Context, date string) ([]story.Story, error)
	ReadStory(ctx context.Context, id string) (story.Story, error)
	ListUnlocks(ctx context.Context, userID string) ([]story.Unlock, error)
	Ping(ctx context.Context) error
}

// Generator publishes a cohort on demand.
type Generator interface {
	Generate(ctx context.Context, date string) (catalog.Result, error)
}

// Deps are the collaborators of a Server. Verifier, Generator and Metrics
// may be nil; the routes that need them then report 503 or are omitted.
type Deps struct {
	Resolver  *access.Resolver
	Store     Store
	Generator Generator
	Verifier  *reward.Verifier
	Metrics   *metrics.Metrics
	IDs       ident.Generator
	Offer     config.Offer
	AdminKey  string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server routes API requests.
type Server struct {
	deps   Deps
	router *mux.Router
}

// New creates a Server and registers its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IDs == nil {
		deps.IDs = ident.UUIDv7Generator{}
	}

	s := &Server{deps: deps, router: mux.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID, s.logRequests)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.InstrumentHandler)
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/unlocks", s.listUnlocks).Methods(http.MethodGet)
	v1.HandleFunc("/stories", s.listStories).Methods(http.MethodGet)
	v1.HandleFunc("/stories/{id}/open", s.openStory).Methods(http.MethodPost)
	v1.HandleFunc("/stories/{id}/unlock", s.unlockStory).Methods(http.MethodPost)
	v1.HandleFunc("/offer", s.offer).Methods(http.MethodGet)

	r.HandleFunc("/admin/generate", s.adminGenerate).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}
