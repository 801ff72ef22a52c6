package prom

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// ServerOptions configures the metrics listener.
type ServerOptions struct {
	Address  string
	Gatherer prometheus.Gatherer
	// Health checks are run by /healthz; any failure answers 503.
	Health map[string]HealthFunc
	Logger *slog.Logger
}

// Server serves /metrics and /healthz.
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the router. Nothing listens until Run.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/healthz", healthHandler(opts.Health))

	return &Server{
		addr:   opts.Address,
		logger: logger.With("component", "metrics_server"),
		srv: &http.Server{
			Addr:              opts.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.srv.SetKeepAlivesEnabled(false)
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.InfoContext(ctx, "serving metrics", "address", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func healthHandler(checks map[string]HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := "ok\n"
		for _, name := range slices.Sorted(maps.Keys(checks)) {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = name + ": " + err.Error() + "\n"
				break
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
