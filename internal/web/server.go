// Package web serves the memtriage dashboard: output statistics, report
// listings, file views and endpoints that start scans and plugin runs.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/memtriage/memtriage/internal/artifacts"
	"github.com/memtriage/memtriage/internal/audit"
	"github.com/memtriage/memtriage/internal/launch"
	"github.com/memtriage/memtriage/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Launcher starts detached runs and reports their state.
type Launcher interface {
	Start(ctx context.Context, tool string, args ...string) (*launch.Handle, error)
	StatusOf(tool string) launch.Status
	Get(id string) (*launch.Handle, bool)
}

// Options wires the dashboard to its collaborators.
type Options struct {
	Store    *artifacts.Store
	Log      *audit.Log
	Launcher Launcher
	// BaseArgs are global flags passed to every launched run.
	BaseArgs []string
	// RunContext bounds launched runs. Defaults to context.Background.
	RunContext context.Context
}

// Server is the dashboard HTTP handler.
type Server struct {
	opts   Options
	mux    *http.ServeMux
	logger zerolog.Logger
}

func New(opts Options) *Server {
	if opts.RunContext == nil {
		opts.RunContext = context.Background()
	}
	s := &Server{opts: opts, mux: http.NewServeMux(), logger: logging.GetLogger("web")}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /run-volatility", s.handleRun(artifacts.Volatility))
	s.mux.HandleFunc("POST /run-yara", s.handleRun(artifacts.Yara))
	s.mux.HandleFunc("GET /volatility-reports", s.handleFiles(artifacts.Volatility, "Volatility reports"))
	s.mux.HandleFunc("GET /yara-logs", s.handleFiles(artifacts.Yara, "YARA logs"))
	s.mux.HandleFunc("GET /view/{tool}/{filename}", s.handleView)
	s.mux.HandleFunc("GET /api/tool-status", s.handleToolStatus)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRunStatus)
	s.mux.HandleFunc("GET /api/recent-activity", s.handleRecentActivity)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("elapsed", time.Since(start)).
		Msg("Request")
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", addr).Msg("Dashboard listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error().Err(err).Str("template", name).Msg("Failed to render page")
	}
}
