package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forgescan/scan-engine/internal/api"
	"forgescan/scan-engine/internal/config"
	"forgescan/scan-engine/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Probe tools, start the job queue and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg)
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:9001", "HTTP listen address")
	cmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	bindFlags(v, cmd.Flags(), map[string]string{
		"addr":          "http.addr",
		"otlp-endpoint": "telemetry.otlp_endpoint",
	})
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: "forgescan-engine",
		Version:     Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.close(); err != nil {
			logger.Warn("engine shutdown", "err", err)
		}
	}()

	mode := e.orch.Start(ctx)
	logger.Info("queue ready", "mode", mode.String(), "tools", len(e.registry.Names()))

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewServer(e.orch, e.registry, e.hub, api.Config{
			SubmitRate:  cfg.HTTP.SubmitRate,
			SubmitBurst: cfg.HTTP.SubmitBurst,
			Metrics:     e.metrics.Handler(),
			Logger:      logger,
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// no WriteTimeout: event streams stay open for the length of a scan
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scan engine listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
