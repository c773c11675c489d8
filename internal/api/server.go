package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Invoke-Chain/internal/auth"
	"Invoke-Chain/internal/catalog"
	"Invoke-Chain/internal/observability/metrics"
	"Invoke-Chain/internal/storage/mysql"
	"Invoke-Chain/internal/task"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

// Options configures the HTTP server.
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// InvokeTimeout bounds synchronous invocations when positive.
	InvokeTimeout time.Duration
}

// Dependencies are the services behind the routes. Tasks, Audit, Auth and
// Metrics are optional; their routes answer 503 or are left out when nil.
type Dependencies struct {
	Functions *catalog.Catalog
	Invoker   *invoke.Invoker
	Groups    func() []plugin.GroupSummary
	Tasks     *task.Service
	Audit     mysql.AuditRepository
	Auth      *auth.Service
	Metrics   *metrics.Registry
}

// Server serves the REST API.
type Server struct {
	opts   Options
	deps   Dependencies
	logger *slog.Logger
}

// NewServer builds the API server.
func NewServer(opts Options, deps Dependencies) *Server {
	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{opts: opts, deps: deps, logger: logger.Named("api")}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "invoke", "POST /api/v1/functions/{name}/invoke", s.handleInvoke, auth.PermissionInvoke)
	s.route(mux, "functions", "GET /api/v1/functions", s.handleFunctions, auth.PermissionCatalog)
	s.route(mux, "groups", "GET /api/v1/groups", s.handleGroups, auth.PermissionCatalog)
	s.route(mux, "tasks_create", "POST /api/v1/tasks", s.handleCreateTask, auth.PermissionTasksWrite)
	s.route(mux, "tasks_list", "GET /api/v1/tasks", s.handleListTasks, auth.PermissionTasksRead)
	s.route(mux, "tasks_stats", "GET /api/v1/tasks/stats", s.handleTaskStats, auth.PermissionTasksRead)
	s.route(mux, "tasks_detail", "GET /api/v1/tasks/{id}", s.handleTaskDetail, auth.PermissionTasksRead)
	s.route(mux, "audit", "GET /api/v1/audit", s.handleAudit, auth.PermissionAuditRead)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, name, pattern string, h http.HandlerFunc, perms ...string) {
	var handler http.Handler = h
	if s.deps.Auth != nil {
		handler = s.deps.Auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{"*": perms},
			AuditEvent:          name,
		})(handler)
	}
	if s.deps.Metrics != nil {
		handler = s.deps.Metrics.Middleware(name, handler)
	}
	mux.Handle(pattern, handler)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("address", s.opts.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api shutdown incomplete", slog.Any("error", err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// withContext rejects requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
