package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coderev/internal/logging"
	serverHTTP "coderev/internal/server/http"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, logOutput io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(opts, logOutput)
	if err != nil {
		return err
	}
	logger := logging.NewComponentLogger("Main")

	serverCfg := serverHTTP.DefaultServerConfig()
	serverCfg.Addr = a.cfg.Addr()
	serverCfg.Debug = !a.cfg.IsProduction() && a.cfg.LogLevel == "debug"
	serverCfg.StaticDir = a.cfg.StaticDir
	serverCfg.MaxUploadBytes = a.cfg.MaxUploadBytes
	serverCfg.AllowedOrigins = a.cfg.CORSAllowedOrigins
	if a.cfg.HTTPTimeout > 0 {
		// every attempt may run to its timeout, plus backoff in between
		serverCfg.WriteTimeout = time.Duration(2*a.cfg.MaxRetries)*a.cfg.HTTPTimeout + time.Minute
	}

	api := serverHTTP.NewServer(a.reviewer, serverCfg, logging.NewComponentLogger("HTTP"), a.metrics)

	var metricsServer *http.Server
	if a.metrics.Enabled() {
		metricsServer = a.metrics.NewServer(fmt.Sprintf(":%d", a.cfg.Metrics.PrometheusPort))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting coderev (model %s, upstream %s)", a.cfg.Model, a.cfg.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(api.Start)
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("Metrics listening on %s", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{api.Stop(shutdownCtx)}
		if metricsServer != nil {
			errs = append(errs, metricsServer.Shutdown(shutdownCtx))
		}
		errs = append(errs, a.close(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
