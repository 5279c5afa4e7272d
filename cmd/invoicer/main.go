package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/invoicer/pkg/config"
	"github.com/platinummonkey/invoicer/pkg/observability"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("invoicer exited")
	}
	logger.Info("invoicer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	app.cron.Start()

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{app.apiServer, app.healthServer} {
		srv := srv
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}
