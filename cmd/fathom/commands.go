package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AcrylicShrimp/fathom/internal/config"
	"github.com/AcrylicShrimp/fathom/internal/cron"
	"github.com/AcrylicShrimp/fathom/internal/gateway"
	"github.com/AcrylicShrimp/fathom/internal/heartbeat"
	"github.com/AcrylicShrimp/fathom/internal/observability"
	"github.com/AcrylicShrimp/fathom/internal/runtime"
	"github.com/AcrylicShrimp/fathom/internal/tui"
)

func buildServerCmd() *cobra.Command {
	var (
		addr       string
		configPath string
		debug      bool
		trace      bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the runtime and bind the RPC surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), addr, configPath, debug, trace)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC listen address (overrides config)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	cmd.Flags().BoolVar(&trace, "trace", false, "emit otel spans to stderr")
	return cmd
}

func buildClientCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start the terminal client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tui.Run(server); err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "127.0.0.1:50051", "server address (host:port)")
	return cmd
}

func runServer(ctx context.Context, addr, configPath string, debug, trace bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Model.APIKey == "" {
		return &exitError{code: exitConfig, err: fmt.Errorf("%s is required", config.EnvAPIKey)}
	}

	logger := observability.NewLogger(debug)
	metrics := observability.NewMetrics()
	shutdownTracing, err := observability.InitTracing(trace)
	if err != nil {
		return &exitError{code: exitFatal, err: fmt.Errorf("init tracing: %w", err)}
	}

	rt, err := runtime.New(runtime.Options{Config: cfg, Logger: logger, Metrics: metrics})
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}

	server := gateway.NewServer(cfg.Server.Addr, rt, logger)
	listener, err := server.Listen()
	if err != nil {
		return &exitError{code: exitBind, err: err}
	}

	var cronSource *cron.Source
	if len(cfg.Cron) > 0 {
		cronSource, err = cron.New(cfg.Cron, rt, logger)
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return server.Serve(listener)
	})

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = observability.NewHTTPServer(cfg.Server.MetricsAddr, metrics)
		group.Go(func() error {
			logger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if cronSource != nil {
		cronSource.Start()
	}
	if cfg.Heartbeat.Enabled {
		runner := heartbeat.New(cfg.Heartbeat.Interval, rt, logger)
		group.Go(func() error {
			runner.Run(groupCtx)
			return nil
		})
	}

	logger.Info("fathom server started",
		"addr", cfg.Server.Addr, "version", version, "task_parallelism", cfg.Tasks.Parallelism)
	<-groupCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cronSource != nil {
		cronSource.Stop()
	}
	server.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runtime shutdown incomplete", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return &exitError{code: exitFatal, err: err}
	}
	return nil
}
