// Command freegated runs the chat-completion gateway: it loads the catalog
// and routing configuration, wires the Registry/Health/CircuitBreaker/
// RateLimiter/Selector/Router stack, and serves the HTTP surface until a
// shutdown signal drains in-flight requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/config"
	"github.com/openlane-dev/freegate/internal/health"
	"github.com/openlane-dev/freegate/internal/httpapi"
	"github.com/openlane-dev/freegate/internal/metrics"
	"github.com/openlane-dev/freegate/internal/provider"
	"github.com/openlane-dev/freegate/internal/provider/openaicompat"
	"github.com/openlane-dev/freegate/internal/ratelimit"
	"github.com/openlane-dev/freegate/internal/router"
	"github.com/openlane-dev/freegate/internal/selector"
	"github.com/openlane-dev/freegate/internal/shutdown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration document")
	catalogPath := flag.String("catalog", "catalog.yaml", "path to the model catalog document")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, *catalogPath, *addr, logger); err != nil {
		logger.Fatal("freegated exited with error", zap.Error(err))
	}
}

func run(configPath, catalogPath, addr string, logger *zap.Logger) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := catalog.Load(ctx, catalogPath, cfg.ModelOverrides, catalog.DefaultFetchTimeout)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	store, err := cfg.BuildStore()
	if err != nil {
		return fmt.Errorf("build state store: %w", err)
	}

	br := breaker.New(store, cfg.BreakerConfig(), logger)
	ht := health.New(store, cfg.StatsWindow(), logger)
	rl := ratelimit.New(ratelimit.DefaultStaleBucketThreshold, logger)
	go rl.RunSweeper(5*time.Minute, ctx.Done())

	sel := selector.New(reg, br, store, nil)
	sc := shutdown.New(logger)

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	rt := router.New(reg, sel, br, ht, rl, sc, providers, logger)
	rt.SetMetrics(metrics.NewCollector("freegate", prometheus.DefaultRegisterer))

	handler := httpapi.New(rt, store, br, rl, cfg.RoutingOptions(), logger)

	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
		logger.Info("shutdown signal received, draining in-flight requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sc.Shutdown(shutdownCtx, 25*time.Second)
	return srv.Shutdown(shutdownCtx)
}

func buildProviders(cfg *config.Config, logger *zap.Logger) (map[string]provider.Adapter, error) {
	out := make(map[string]provider.Adapter, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		out[name] = openaicompat.New(openaicompat.Config{
			Name:    name,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
		}, logger)
	}
	return out, nil
}
