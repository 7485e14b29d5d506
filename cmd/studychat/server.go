package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"studychat/internal/constants"
	"studychat/internal/metrics"
	"studychat/internal/session"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the local status endpoints: liveness plus a JSON dump
// of the sync counters.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	session  *session.Session
	registry *metrics.Registry
	server   *http.Server
}

func NewServer(sess *session.Session, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		session:  sess,
		registry: registry,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = fmt.Sprintf("%d", constants.DefaultStatusPort)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting status server on port %s", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":       "ok",
			"session":      string(s.session.State()),
			"connection":   string(s.session.ConnectionState()),
			"conversation": s.session.ConversationID(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.logger.Warnf("Failed to encode health response: %v", err)
		}
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.WithField("endpoint", "/metrics").Debug("Serving metrics endpoint")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.registry.Snapshot()); err != nil {
			s.logger.Warnf("Failed to encode metrics: %v", err)
		}
	}
}
