// Package admin serves the operator HTTP surface: health, metrics, stats,
// manual refresh and ad-hoc classification.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/common/metrics"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist"
	"github.com/haukened/rr-sinkhole/internal/dns/services/aggregator"
)

const (
	RequestTimeout  = 30 * time.Second
	ShutdownTimeout = 5 * time.Second
)

type StatsSource interface {
	Stats() blocklist.Stats
}

type Classifier interface {
	Classify(qname string) domain.BlockDecision
}

type Refresher interface {
	Trigger() bool
	LastReport() (aggregator.Report, bool)
}

type Options struct {
	Listen     string
	Stats      StatsSource
	Classifier Classifier
	Refresher  Refresher
	Metrics    *metrics.Metrics
	Logger     log.Logger
}

type Server struct {
	opts   Options
	logger log.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Server{opts: opts, logger: logger}
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Blocklist   blocklist.Stats    `json:"blocklist"`
	LastRefresh *aggregator.Report `json:"last_refresh,omitempty"`
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	r.Get("/stats", s.stats)
	r.Post("/refresh", s.refresh)
	r.Get("/classify/{name}", s.classify)

	return r
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info(map[string]any{"address": ln.Addr().String()}, "admin server started")

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info(nil, "admin server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(map[string]any{
			"status":   ww.Status(),
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}, "admin request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.opts.Stats != nil {
		resp.Blocklist = s.opts.Stats.Stats()
	}
	if s.opts.Refresher != nil {
		if report, ok := s.opts.Refresher.LastReport(); ok {
			resp.LastRefresh = &report
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Refresher == nil {
		http.Error(w, "refresh not available", http.StatusServiceUnavailable)
		return
	}
	queued := s.opts.Refresher.Trigger()
	s.logger.Info(map[string]any{"queued": queued}, "manual blocklist refresh requested")
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	if s.opts.Classifier == nil {
		http.Error(w, "classifier not available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.Classifier.Classify(chi.URLParam(r, "name")))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(map[string]any{"error": err}, "failed to write admin response")
	}
}
