// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the dashboard REST and websocket API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/nsight/internal/config"
	"grimm.is/nsight/internal/engine"
	"grimm.is/nsight/internal/logging"
	"grimm.is/nsight/internal/metrics"
	"grimm.is/nsight/internal/nextdns"
	"grimm.is/nsight/internal/store"
)

// ServerConfig holds HTTP server security configuration.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration // Body read limit
	WriteTimeout      time.Duration // Response timeout
	IdleTimeout       time.Duration // Keep-alive timeout
	MaxHeaderBytes    int           // Header size limit
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
}

// ProfileLookup resolves NextDNS profile metadata, usually *nextdns.Client.
// May be nil when no API key is configured.
type ProfileLookup interface {
	Profile(ctx context.Context, profileID string) (*nextdns.Profile, error)
}

// Server handles API requests.
type Server struct {
	store     *store.Store
	agg       *engine.Aggregator
	cfg       *config.Config
	profiles  ProfileLookup
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	hub       *Hub
	startTime time.Time
	version   string

	router *mux.Router
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Store    *store.Store
	Config   *config.Config
	Profiles ProfileLookup // optional
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry // optional, for /metrics
	Version  string
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		store:     opts.Store,
		agg:       engine.NewAggregator(opts.Store),
		cfg:       opts.Config,
		profiles:  opts.Profiles,
		metrics:   opts.Metrics,
		registry:  opts.Registry,
		hub:       NewHub(),
		startTime: time.Now(),
		version:   opts.Version,
	}
	s.initRoutes()
	return s
}

// Hub returns the websocket hub so the fetcher can broadcast new records.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) initRoutes() {
	router := mux.NewRouter()
	s.router = router

	router.Use(s.requestIDMiddleware)
	if s.metrics != nil {
		router.Use(s.instrumentMiddleware)
	}

	// Public endpoints
	router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/health/detailed", s.handleDetailedHealth).Methods("GET")
	if s.registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Protected endpoints
	api := router.PathPrefix("/api").Subrouter()
	if s.cfg != nil && s.cfg.Auth != nil && s.cfg.Auth.Enabled {
		api.Use(s.basicAuthMiddleware)
	}

	api.HandleFunc("/logs", s.handleLogs).Methods("GET")
	api.HandleFunc("/logs/stream", s.handleLogsStream).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stats/overview", s.handleOverview).Methods("GET")
	api.HandleFunc("/stats/timeseries", s.handleTimeSeries).Methods("GET")
	api.HandleFunc("/stats/domains", s.handleTopDomains).Methods("GET")
	api.HandleFunc("/stats/parents", s.handleTopParents).Methods("GET")
	api.HandleFunc("/stats/devices", s.handleTopDevices).Methods("GET")
	api.HandleFunc("/devices", s.handleDevices).Methods("GET")
	api.HandleFunc("/profiles", s.handleProfiles).Methods("GET")
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context, listen string) error {
	sc := DefaultServerConfig()
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: sc.ReadHeaderTimeout,
		ReadTimeout:       sc.ReadTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
		MaxHeaderBytes:    sc.MaxHeaderBytes,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("api server listening", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
