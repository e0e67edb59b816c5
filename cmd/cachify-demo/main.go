package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-cachify/v1/core"
	"github.com/mirkobrombin/go-cachify/v1/metrics"
	"github.com/mirkobrombin/go-cachify/v1/presets"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML configuration file (in-memory backend when empty)")
	metricsAddr = flag.String("metrics-addr", "", "Address serving /metrics; the process keeps running until interrupted")
	trace       = flag.Bool("trace", false, "Print OpenTelemetry spans to stdout")
	hold        = flag.Duration("hold", time.Second, "How long each guarded call holds its lock")
)

func main() {
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := presets.Defaults()
	if *configPath != "" {
		var err error
		if cfg, err = presets.Load(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	if *trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatalf("failed to create trace exporter: %v", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	c, closeFn, err := cfg.Build()
	if err != nil {
		log.Fatalf("failed to build %s backend: %v", cfg.Backend, err)
	}
	defer closeFn()
	ctx = core.NewContext(ctx, c)
	slog.Info("cachify: backend ready", "backend", cfg.Backend, "prefix", c.Prefix(), "lock_expiration", c.LockExpiration())

	if err := runScenarios(ctx, *hold); err != nil {
		log.Fatalf("scenario failed: %v", err)
	}

	if *metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("cachify-demo serving metrics on %s", *metricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("metrics server: %v", err)
	}
}
