// Command meetgraph runs the meeting-transcript ingestion service: the
// curator HTTP API (default) or the read-only MCP tool server (-mode=mcp).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/meetgraph/internal/api"
	"github.com/MrWong99/meetgraph/internal/config"
	"github.com/MrWong99/meetgraph/internal/health"
	"github.com/MrWong99/meetgraph/internal/mcptools"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/internal/resilience"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	modeServe = "serve"
	modeMCP   = "mcp"

	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFiles := flag.String("env", ".env", "comma-separated .env files loaded before the config")
	mode := flag.String("mode", modeServe, "run mode: serve (HTTP API) or mcp (MCP tools over stdio)")
	flag.Parse()

	if *mode != modeServe && *mode != modeMCP {
		fmt.Fprintf(os.Stderr, "meetgraph: unknown mode %q (want %s or %s)\n", *mode, modeServe, modeMCP)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(splitList(*envFiles)...); err != nil {
		fmt.Fprintf(os.Stderr, "meetgraph: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "meetgraph: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "meetgraph: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("meetgraph starting",
		"version", version,
		"mode", *mode,
		"config", *configPath,
		"graph", cfg.Graph.Backend,
		"extraction", cfg.Extraction.Provider,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := telemetry.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	store, err := reg.CreateGraph(ctx, cfg.Graph)
	if err != nil {
		slog.Error("failed to open graph store", "backend", cfg.Graph.Backend, "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(sctx); err != nil {
			slog.Warn("graph store close error", "err", err)
		}
	}()
	slog.Info("graph store opened", "backend", cfg.Graph.Backend)

	provider, err := buildExtractionProvider(cfg.Extraction, reg)
	if err != nil {
		slog.Error("failed to build extraction provider", "err", err)
		return 1
	}
	var guarded *resilience.GuardedProvider
	if provider != nil {
		guarded = resilience.Guard(provider, resilience.Config{
			MaxFailures:  cfg.Extraction.Circuit.MaxFailures,
			ResetTimeout: cfg.Extraction.Circuit.ResetTimeout.Std(),
		})
		provider = guarded
	}
	extractor := newExtractionClient(cfg.Extraction, provider, metrics)

	pipeline, err := buildPipeline(cfg, extractor, store, metrics)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── MCP mode ──────────────────────────────────────────────────────────────
	if *mode == modeMCP {
		srv := mcptools.NewServer(mcptools.Deps{
			Graph:    store,
			Resolver: func() mcptools.Resolver { return pipeline },
		}, version)
		slog.Info("serving MCP tools on stdio")
		if err := mcptools.Serve(ctx, srv); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp server error", "err", err)
			return 1
		}
		slog.Info("goodbye")
		return 0
	}

	// ── HTTP API ──────────────────────────────────────────────────────────────
	apiServer := api.New(pipeline, persist.NewWriter(store, persist.WithMetrics(metrics)), store,
		api.WithCuratorHeader(cfg.Server.CuratorHeader),
		api.WithSessionTTL(cfg.Server.SessionTTL.Std()),
		api.WithMetrics(metrics),
	)
	go apiServer.Sessions().Run(ctx, sweepInterval)

	mux := http.NewServeMux()
	apiServer.Register(mux)
	checkers := []health.Checker{
		health.GraphChecker(store),
		health.ExtractionChecker(extractor.IsConfigured),
	}
	if guarded != nil {
		checkers = append(checkers, health.CircuitChecker(guarded.State))
	}
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", telemetry.Handler())

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(c config.Change) {
		d := c.Diff
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PipelineChanged() {
			p, err := buildPipeline(c.New, extractor, store, metrics)
			if err != nil {
				slog.Warn("config reload: pipeline not rebuilt", "err", err)
			} else {
				apiServer.SetPipeline(p)
				slog.Info("config reload: pipeline rebuilt",
					"roster", d.RosterChanged,
					"organization", d.OrganizationChanged,
					"matching", d.MatchingChanged,
				)
			}
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config reload: restart required for changes", "keys", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, observe.WithQuietRoutes("GET /healthz", "GET /readyz", "GET /metrics"))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready; press Ctrl+C to shut down",
			"listen_addr", cfg.Server.ListenAddr,
			"tls", cfg.Server.TLS != nil,
		)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("http server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye", "open_sessions", apiServer.Sessions().Len())
	return 0
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
