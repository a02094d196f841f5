// Package gateway is the HTTP edge of the presentation service: deck
// rendering, dataset upload, data questions, and the Slack slash
// command, plus health and metrics endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/presgen/internal/data"
	"github.com/haasonsaas/presgen/internal/orchestrator"
)

// Runner is the orchestration capability the gateway depends on.
type Runner interface {
	Run(ctx context.Context, p orchestrator.Params) (orchestrator.Result, error)
}

// Config holds the gateway's listen address and Slack settings.
type Config struct {
	Host               string
	Port               int
	SlackSigningSecret string
	// SlackBypassSignature skips verification; local testing only.
	SlackBypassSignature bool
}

// Server serves the HTTP edge.
type Server struct {
	cfg    Config
	orch   Runner
	store  *data.Store
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	// injectable for tests
	now        func() time.Time
	httpClient *http.Client
}

// NewServer builds the edge server. store may be nil to disable the
// data endpoints.
func NewServer(cfg Config, orch Runner, store *data.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		orch:       orch,
		store:      store,
		logger:     logger,
		now:        time.Now,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Handler returns the routed mux, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/render", s.instrument("/render", s.handleRender))
	mux.HandleFunc("/data/upload", s.instrument("/data/upload", s.handleDataUpload))
	mux.HandleFunc("/data/ask", s.instrument("/data/ask", s.handleDataAsk))
	mux.HandleFunc("/slack/command", s.instrument("/slack/command", s.handleSlackCommand))
	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// instrument wraps a handler with request counting and latency metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
