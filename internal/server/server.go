// Package server exposes the monitor over HTTP: pull endpoints for
// one-shot snapshots, control endpoints for connections and the scheduler,
// and a WebSocket stream for realtime updates.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/monitor"
)

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Server wires the monitor service to HTTP and WebSocket handlers.
type Server struct {
	svc        *monitor.Service
	hub        *Hub
	version    string
	addr       string
	log        logger.Logger
	httpServer *http.Server
}

// New creates a server for the given monitor service.
func New(svc *monitor.Service, cfg Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	s := &Server{
		svc:     svc,
		version: cfg.Version,
		addr:    fmt.Sprintf("%s:%d", host, cfg.Port),
		log:     log,
	}
	s.hub = NewHub(svc, log)
	return s
}

// Handler builds the full route table wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)

	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/local", s.handleMetricsLocal)
	mux.HandleFunc("/metrics/remote", s.handleMetricsRemote)

	mux.HandleFunc("/connection/status", s.handleConnectionStatus)
	mux.HandleFunc("/connection/configure", s.handleConnectionConfigure)
	mux.HandleFunc("/connection/connect", s.handleConnectionConnect)
	mux.HandleFunc("/connection/disconnect", s.handleConnectionDisconnect)
	mux.HandleFunc("/connection/switch", s.handleConnectionSwitch)
	mux.HandleFunc("/connection/remove", s.handleConnectionRemove)

	mux.HandleFunc("/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("/scheduler/start", s.handleSchedulerStart)
	mux.HandleFunc("/scheduler/stop", s.handleSchedulerStop)
	mux.HandleFunc("/scheduler/interval", s.handleSchedulerInterval)

	mux.HandleFunc("/ws", s.hub.ServeWS)

	return corsMiddleware(mux)
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.log.Info("listening on %s", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Hub returns the WebSocket hub so callers can broadcast status changes.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown stops accepting connections, closes WebSocket clients, and waits
// for in-flight requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds permissive CORS headers and answers preflights.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
