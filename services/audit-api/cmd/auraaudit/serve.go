package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auraaudit/pkg/metrics"
	otelobs "auraaudit/pkg/observability/otel"
	"auraaudit/services/audit-api/internal/ingest"
	"auraaudit/services/audit-api/internal/server"
	"auraaudit/shared/config"
	"auraaudit/shared/logging"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return exitError(2, "configuration: %v", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Apply pending migrations before serving (postgres only)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, autoMigrate bool) error {
	logger := logging.L().With(zap.String("service", cfg.Service.Name))

	shutdownTracer, err := otelobs.InitTracer(ctx, cfg.Service.Name, cfg.OTel.Endpoint, logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	var otelMetrics *metrics.OTelExporter
	if cfg.OTel.Endpoint != "" {
		otelMetrics, err = metrics.NewOTelExporter(ctx, cfg.Service.Name, cfg.OTel.Endpoint, 30*time.Second)
		if err != nil {
			logger.Warn("otel metrics disabled", zap.Error(err))
		}
	}

	b, err := openBackends(ctx, cfg, autoMigrate)
	if err != nil {
		return err
	}
	defer b.Close(logger)

	jm, err := newJWTManager(cfg.Auth, b.revokedStore(), logger)
	if err != nil {
		return err
	}

	m := metrics.New("auraaudit")
	svc := ingest.New(b.store, b.publisher, ingest.WithLogger(logger), ingest.WithMetrics(m))
	api := server.New(server.Config{
		ServiceName: cfg.Service.Name,
		Service:     svc,
		Source:      b.source,
		JWT:         jm,
		BypassPaths: cfg.Auth.BypassPaths,
		Limiter:     b.limiter(cfg.RateLimit),
		Metrics:     m,
		Logger:      logger,
		Health:      b.store.Ping,
	})

	// Cancelling baseCtx ends long-lived stream requests so Shutdown can drain.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("audit api listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("transport", cfg.Stream.Transport),
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	cancelRequests()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := otelMetrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel metrics shutdown", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
	return nil
}
