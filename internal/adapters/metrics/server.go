package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// StatusSource is what the ops endpoints read from the running engine.
type StatusSource interface {
	Snapshots() []domain.Snapshot
	Degraded() bool
}

// Server serves /metrics, /healthz and /markets.
type Server struct {
	addr    string
	handler http.Handler
}

// NewServer builds the router. status may be nil before the engine exists.
func NewServer(addr string, m *Metrics, status StatusSource) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		degraded := status != nil && status.Degraded()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "degraded": degraded})
	})
	r.Get("/markets", func(w http.ResponseWriter, _ *http.Request) {
		snaps := []domain.Snapshot{}
		if status != nil {
			snaps = append(snaps, status.Snapshots()...)
		}
		writeJSON(w, http.StatusOK, snaps)
	})
	return &Server{addr: addr, handler: r}
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("metrics: listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("metrics: encode response", "err", err)
	}
}
