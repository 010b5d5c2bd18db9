// Command aidm runs the AIDM narrative engine: it loads configuration,
// assembles the app, and serves until interrupted. The HTTP surface is a
// thin external adapter; this binary hosts the core plus health endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusversus/aidm/internal/app"
	"github.com/deusversus/aidm/internal/config"
	"github.com/deusversus/aidm/internal/health"
	"github.com/deusversus/aidm/internal/observe"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	healthAddr := flag.String("health-addr", ":8090", "address for health and metrics endpoints (empty to disable)")
	flag.Parse()

	if err := run(*configPath, *healthAddr); err != nil {
		fmt.Fprintln(os.Stderr, "aidm:", err)
		os.Exit(1)
	}
}

func run(configPath, healthAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config, d config.ConfigDiff) {
		if d.AgentsChanged || d.MediaChanged || d.LogLevelChanged {
			slog.Info("config changed; hot-reloadable fields apply at next campaign start",
				"agents_changed", d.AgentsChanged, "media_changed", d.MediaChanged)
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownObserve(sctx)
	}()

	a, err := app.New(ctx, cfg, app.DefaultRegistry())
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Shutdown(context.Background())
	}()

	if healthAddr != "" {
		go serveHealth(ctx, healthAddr, a)
	}

	slog.Info("aidm running", "config", configPath)
	return a.Run(ctx)
}

func serveHealth(ctx context.Context, addr string, a *app.App) {
	h := health.New(
		health.Checker{Name: "database", Check: a.PingDatabase},
		health.Checker{Name: "profiles", Check: a.CheckProfiles},
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)

	srv := &http.Server{Addr: addr, Handler: observe.Middleware(observe.DefaultMetrics())(mux)}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Warn("health server stopped", "error", err)
	}
}
