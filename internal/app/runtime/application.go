// Package runtime assembles the process: configuration, logging, the backend
// handle, the application and its HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	app "github.com/Sivtheng/message-maxy/internal/app"
	"github.com/Sivtheng/message-maxy/internal/app/httpapi"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/provider"
	"github.com/Sivtheng/message-maxy/internal/config"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	handle     *backend.Handle
	app        *app.Application
	httpServer *http.Server
}

// NewApplication loads configuration from the environment and builds the
// process.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg)
}

// New builds the process from cfg. Backend parts that cannot be reached are
// left out and the affected operations degrade.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	handle, err := provider.Open(ctx, cfg, log.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	application, err := app.New(handle, app.Options{JanitorSchedule: cfg.Janitor.Schedule}, log.Named("app"))
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler := httpapi.NewHandler(application, httpapi.OptionsFrom(cfg), log.Named("http"))

	return &Application{
		cfg:        cfg,
		log:        log,
		handle:     handle,
		app:        application,
		httpServer: newServer(cfg.Server, handler),
	}, nil
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}

// App returns the composed application.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(map[string]interface{}{
			"addr":     ln.Addr().String(),
			"provider": a.cfg.Backend.Provider,
			"public":   a.cfg.Server.PublicURL,
		}).Info("HTTP server listening")
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then background services, then releases
// the backend.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	if err := a.handle.Close(); err != nil {
		a.log.WithError(err).Warn("error closing backend")
	}
	return errors.Join(errs...)
}
