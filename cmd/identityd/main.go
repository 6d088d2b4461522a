// Command identityd serves the goIdentity HTTP API backed by Postgres and
// Redis. Configuration is read from the environment; see internal/app.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/goIdentity/internal/app"
	"github.com/MrEthical07/goIdentity/internal/httpapi"
	otelexport "github.com/MrEthical07/goIdentity/metrics/export/otel"
	promexport "github.com/MrEthical07/goIdentity/metrics/export/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("identityd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, warning := range rt.Engine.SecurityReport().Warnings {
		logger.Warn("security posture", slog.String("warning", warning))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewPrometheusExporter(rt.Engine),
	)

	if cfg.OTelMetricsInterval > 0 {
		pipeline, err := otelexport.Start(rt.Engine, otelexport.NewLogExporter(logger), cfg.OTelMetricsInterval)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := pipeline.Shutdown(shutdownCtx); err != nil {
				logger.Warn("otel metrics shutdown", slog.Any("error", err))
			}
		}()
	}

	api := httpapi.New(httpapi.Options{
		Engine:         rt.Engine,
		Audit:          rt.Audit,
		Deliverer:      logDeliverer(logger, !cfg.IsProduction()),
		Logger:         logger,
		AuthRateLimit:  cfg.AuthRateLimit,
		RequestTimeout: cfg.AppRequestTimeout,
		Production:     cfg.IsProduction(),
	})

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	router.Mount("/", api.Handler())

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// logDeliverer logs issued tokens. The token value is only included
// outside production.
func logDeliverer(logger *slog.Logger, withToken bool) httpapi.Deliverer {
	return httpapi.DelivererFunc(func(_ context.Context, d httpapi.Delivery) error {
		attrs := []any{slog.String("kind", d.Kind), slog.String("user_id", d.UserID)}
		if withToken {
			attrs = append(attrs, slog.String("email", d.Email), slog.String("token", d.Token))
		}
		logger.Info("token issued for delivery", attrs...)
		return nil
	})
}
