// Package server assembles the router and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/janisto/cicd-demo/internal/config"
	"github.com/janisto/cicd-demo/internal/http/health"
	"github.com/janisto/cicd-demo/internal/http/home"
	applog "github.com/janisto/cicd-demo/internal/platform/logging"
	appmiddleware "github.com/janisto/cicd-demo/internal/platform/middleware"
	"github.com/janisto/cicd-demo/internal/platform/respond"
)

const (
	apiTitle = "CI/CD Demo"
	docsPath = "/docs"
)

// NewRouter builds the chi router with the middleware stack, the health
// probe and the huma API.
func NewRouter(cfg config.Config, version string) chi.Router {
	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())

	router.Use(
		appmiddleware.Security(docsPath),
		appmiddleware.Vary(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Forwarded-For; deploy behind a proxy that sets it.
		chimiddleware.RealIP,
		chimiddleware.RequestSize(1<<20),
		applog.RequestLogger(),
		applog.AccessLogger(),
		respond.Recoverer(),
		chimiddleware.GetHead,
	)

	router.Get("/health", health.Handler)

	api := humachi.New(router, apiConfig(cfg, version))
	home.Register(api)

	return router
}

func apiConfig(cfg config.Config, version string) huma.Config {
	hc := huma.DefaultConfig(apiTitle, version)
	if cfg.DocsEnabled {
		hc.DocsPath = docsPath
	} else {
		hc.OpenAPIPath = ""
		hc.DocsPath = ""
		hc.SchemasPath = ""
	}
	return hc
}

// New returns an http.Server for cfg.Addr() with conservative timeouts.
func New(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
}

// Listen binds srv.Addr. Binding before serving makes a taken port fail fast.
func Listen(srv *http.Server) (net.Listener, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return ln, nil
}

// Run serves on ln until ctx is done or serving fails, then shuts down
// within shutdownTimeout. A nil return means a clean shutdown.
func Run(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		applog.LogInfo(ctx, "server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		applog.LogInfo(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("shutdown: %w", err)
		// Drop connections that outlived the grace period.
		_ = srv.Close()
	}
	if err := <-serveErr; err != nil {
		shutdownErr = multierr.Append(shutdownErr, fmt.Errorf("serve: %w", err))
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	applog.LogInfo(context.Background(), "server exited")
	return nil
}
