package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runframe/agentrelay/internal/auth"
	"github.com/runframe/agentrelay/internal/database"
	"github.com/runframe/agentrelay/internal/handlers"
	mw "github.com/runframe/agentrelay/internal/middleware"
	"github.com/runframe/agentrelay/internal/relay"
)

// Handshakes allowed per client IP per minute on the relay path.
const relayHandshakeLimit = 60

type Server struct {
	Router   *chi.Mux
	Relay    *relay.Server
	Registry *relay.Registry
	DB       *database.DB
	Auth     *auth.Service

	journal *database.JournalWriter
}

type Config struct {
	DB   *database.DB
	Auth *auth.Service
	// Verifier checks agent keys; nil accepts any agent.
	Verifier relay.AgentVerifier
	// Factory replaces the routing handler, e.g. with the mock agent.
	Factory relay.HandlerFactory

	Path            string
	Port            int
	AllowedOrigins  []string
	MaxMessageBytes int64
}

func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	reg := relay.NewRegistry()
	var journal *database.JournalWriter
	if cfg.DB != nil {
		journal = database.NewJournalWriter(cfg.DB, 0)
	}
	factory := cfg.Factory
	if factory == nil {
		factory = relay.NewRelayFactory(reg, relay.RelayOptions{
			Verifier: cfg.Verifier,
			Journal:  JournalFor(journal),
		})
	}

	s := &Server{
		Router:   chi.NewRouter(),
		Registry: reg,
		DB:       cfg.DB,
		Auth:     cfg.Auth,
		journal:  journal,
		Relay: relay.NewServer(factory, relay.Options{
			AllowedOrigins:  cfg.AllowedOrigins,
			Auth:            cfg.Auth,
			MaxMessageBytes: cfg.MaxMessageBytes,
		}),
	}

	s.setupMiddleware(cfg.AllowedOrigins)
	s.setupRoutes(cfg)
	return s
}

func (s *Server) setupMiddleware(origins []string) {
	s.Router.Use(chiMiddleware.RealIP)
	s.Router.Use(mw.RequestID)
	s.Router.Use(mw.Logger)
	s.Router.Use(mw.CORS(origins))
	s.Router.Use(chiMiddleware.Recoverer)
}

func (s *Server) setupRoutes(cfg Config) {
	systemHandler := handlers.NewSystemHandler(cfg.Port, cfg.Path)
	relayHandler := handlers.NewRelayHandler(s.Registry, s.Relay, s.DB)

	s.Router.Get("/health", systemHandler.Health)
	s.Router.Handle("/metrics", promhttp.Handler())

	s.Router.Route("/api", func(r chi.Router) {
		r.Use(mw.SecurityHeaders)
		r.Use(mw.Auth(s.Auth))
		r.Get("/system/info", systemHandler.Info)
		r.Get("/relay/status", relayHandler.Status)
		r.Get("/relay/journal", relayHandler.Journal)
	})

	s.Relay.Mount(s.Router.With(mw.RateLimit(relayHandshakeLimit, time.Minute)), cfg.Path)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Close writes out queued journal entries. Call it after the relay has shut
// down and before closing the database.
func (s *Server) Close() {
	if s.journal != nil {
		s.journal.Close()
	}
}

// JournalFor adapts the journal writer to relay records. A nil writer
// disables journaling.
func JournalFor(w *database.JournalWriter) relay.Journal {
	if w == nil {
		return nil
	}
	return func(rec relay.Record) {
		w.Enqueue(database.JournalEntry{
			ConnectionID: rec.ConnectionID,
			Role:         string(rec.Role),
			Action:       rec.Action,
			EventType:    string(rec.EventType),
			ArtifactID:   rec.ArtifactID,
			Detail:       rec.Detail,
		})
	}
}
