package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/janisto/cicd-demo/internal/config"
	applog "github.com/janisto/cicd-demo/internal/platform/logging"
	"github.com/janisto/cicd-demo/internal/server"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

func main() {
	if err := run(); err != nil {
		applog.LogFatal(context.Background(), "server failed", err, zap.String("version", Version))
	}
}

// run returns a non-nil error for invalid configuration, a listen failure or
// an unclean shutdown. main turns that into a fatal log and exit status 1.
func run() error {
	defer func() {
		if err := applog.Sync(); err != nil {
			applog.LogError(context.Background(), "logger sync error", err)
		}
	}()
	if err := applog.Err(); err != nil {
		applog.LogError(context.Background(), "logger init error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.NewRouter(cfg, Version))
	ln, err := server.Listen(srv)
	if err != nil {
		return err
	}

	applog.LogInfo(ctx, "starting", zap.String("version", Version), zap.Bool("docs", cfg.DocsEnabled))
	return server.Run(ctx, srv, ln, cfg.ShutdownTimeout)
}
