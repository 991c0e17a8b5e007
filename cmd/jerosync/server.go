package main

import (
	"context"
	"net/http"
	"time"

	"jerosync/internal/httputil"
	"jerosync/internal/metrics"
	"jerosync/internal/middleware"
	"jerosync/internal/models"
	"jerosync/internal/service"
	"jerosync/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	session *service.Session
	hub     *EventHub
	cfg     models.ServerConfig
	verbose bool
	now     func() time.Time
	server  *http.Server
}

func NewServer(cfg models.ServerConfig, session *service.Session, hub *EventHub, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		session: session,
		hub:     hub,
		cfg:     cfg,
		verbose: verbose,
		now:     time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loopbackOnly)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(metrics.GetRegistry()))
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.Handle("/metrics/prometheus", promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})).Methods(http.MethodGet)

	versions := versioning.NewVersionMiddleware(s.logger)

	// The event stream bypasses the request middleware: it is long-lived and hijacked
	events := middleware.StreamObservabilityMiddleware(s.logger, "events")(s.hub)
	events = versions.VersionHandler(versioning.RequireFeature(versioning.FeatureEventStream)(events))
	s.router.Handle("/api/events", events).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.ObservabilityMiddleware(s.logger))
	api.Use(versions.VersionHandler)

	api.HandleFunc("/conversations/{peer}", s.handleGetConversation()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{peer}", s.handleCloseConversation()).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{peer}/messages", s.handleSendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{peer}/refresh", s.handleRefreshConversation()).Methods(http.MethodPost)

	api.HandleFunc("/presence/{peer}", s.handleGetPresence()).Methods(http.MethodGet)
	api.HandleFunc("/visibility", s.handleSetVisibility()).Methods(http.MethodPut)

	api.HandleFunc("/statuses", s.handleListStatuses()).Methods(http.MethodGet)
	api.HandleFunc("/statuses", s.handleCreateStatus()).Methods(http.MethodPost)
	api.HandleFunc("/statuses/{author}/{id:[0-9]+}", s.handleDeleteStatus()).Methods(http.MethodDelete)

	api.HandleFunc("/contacts", s.handleListContacts()).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.handleAddContact()).Methods(http.MethodPost)

	api.HandleFunc("/intro", s.handleGetIntro()).Methods(http.MethodGet)
	api.HandleFunc("/intro/complete", s.handleCompleteIntro()).Methods(http.MethodPost)
}

// loopbackOnly rejects clients that are not on this machine
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.IsLoopbackPeer(r) {
			s.logger.WithField(service.LogFieldRemoteIP, httputil.GetClientIP(r)).Warn("Rejected non-loopback client")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting local API on %s", s.cfg.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		state := "ok"
		if !s.session.Running() || s.session.Expired() {
			status = http.StatusServiceUnavailable
			state = "stopped"
		} else if !s.session.Connected() {
			state = "degraded"
		}

		s.writeJSON(w, r, status, map[string]interface{}{
			"status":          state,
			"connected":       s.session.Connected(),
			"session_running": s.session.Running(),
			"event_clients":   s.hub.ClientCount(),
		})
	}
}
