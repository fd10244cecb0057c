// Package server is the local web surface of kmsend: the upload page, the
// run trigger, the live progress stream and read-only history, health and
// metrics endpoints.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kmsend/internal/batch"
	"kmsend/internal/config"
	"kmsend/internal/logging"
	"kmsend/internal/health"
	"kmsend/internal/progress"
	"kmsend/internal/store"
)

//go:embed web/index.html
var assets embed.FS

// Runner starts runs. *batch.Orchestrator satisfies it.
type Runner interface {
	Start(ctx context.Context, job batch.Job) bool
	Running() bool
	CurrentRun() string
	Settings() batch.Settings
}

// Subscriber hands out progress subscriptions. *progress.Broadcaster
// satisfies it.
type Subscriber interface {
	Subscribe() (*progress.Stream, func())
}

// History reads stored runs. *store.Store satisfies it.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	RecipientHistory(ctx context.Context, name string, limit int) ([]store.Outcome, error)
}

// Deps are the collaborators of a Server. History, Health and Metrics are
// optional.
type Deps struct {
	Runner  Runner
	Events  Subscriber
	History History
	Health  *health.Checker
	Metrics http.Handler

	// Config returns the live configuration; it is read on every request so
	// reloads apply without a restart.
	Config func() *config.Config

	// RunContext bounds the runs started from the page. Cancelling it
	// interrupts the active run. Defaults to context.Background().
	RunContext context.Context

	Version string
	Logger  *logging.Logger
}

// Server serves the web surface.
type Server struct {
	deps   Deps
	logger *logging.Logger
	router *gin.Engine
	upload uploadSlot
}

// New builds the server and its router.
func New(d Deps) (*Server, error) {
	if d.Runner == nil || d.Events == nil || d.Config == nil {
		return nil, errors.New("server: runner, events and config are required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.RunContext == nil {
		d.RunContext = context.Background()
	}
	s := &Server{deps: d, logger: d.Logger.WithComponent("server")}

	tmpl, err := template.ParseFS(assets, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	s.router = s.newRouter(tmpl)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newRouter(tmpl *template.Template) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.SetHTMLTemplate(tmpl)

	s.registerPageRoutes(r)
	s.registerRunRoutes(r)
	s.registerHistoryRoutes(r)
	s.registerOpsRoutes(r)
	return r
}

// ListenAndServe serves on the configured address until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.deps.Config().Server.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully. Open
// progress streams end with ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("web page available", "url", "http://"+ln.Addr().String())
	if s.deps.Health != nil {
		s.deps.Health.SetReady(true)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.deps.Health != nil {
		s.deps.Health.SetReady(false)
	}
	timeout := s.deps.Config().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("web server stopped")
	return nil
}
