// Command persona-server is the chat backend of Persona: it answers
// POST /chat with a language model reply in the configured persona.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/persona/internal/builtin"
	"github.com/MrWong99/persona/internal/chatserver"
	"github.com/MrWong99/persona/internal/config"
	"github.com/MrWong99/persona/internal/health"
	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/internal/persona"
	"github.com/MrWong99/persona/pkg/provider/llm"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults only when empty)")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "persona-server",
		ServiceVersion: version,
		Registerer:     prometheus.DefaultRegisterer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "persona-server: init observability: %v\n", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Configuration ─────────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		store   = &persona.Store{}
	)
	if *configPath == "" {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	} else {
		watcher, err = config.NewWatcher(*configPath,
			func(old, new *config.Config) { applyReload(ctx, level, store, metrics, old, new) },
			config.WithErrorHandler(func(error) { metrics.RecordConfigReload(ctx, "error") }),
		)
		if watcher != nil {
			cfg = watcher.Current()
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "persona-server: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "persona-server: %v\n", err)
		}
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	level.Set(cfg.Server.LogLevel.SlogLevel())

	if err := store.Reload(cfg.Persona); err != nil {
		slog.Error("failed to load persona", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	builtin.Register(reg)

	opts := []chatserver.Option{
		chatserver.WithMetrics(metrics),
		chatserver.WithTimeout(cfg.Client.RequestTimeout),
	}
	provider, err := builtin.LLM(cfg.Providers, reg, os.Getenv, metrics)
	if err != nil {
		if !llm.IsConfigError(err) {
			slog.Error("failed to build llm provider", "err", err)
			return 1
		}
		// A missing or malformed key is reported on every request, so the
		// voice client can show it.
		slog.Warn("llm credential problem, /chat will fail until fixed", "err", err)
		opts = append(opts, chatserver.WithUnavailable(err))
	}
	chat := chatserver.New(provider, store, opts...)

	printStartupSummary(cfg, store)

	// ── HTTP ──────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	chat.Register(mux)
	health.New(
		health.Checker{Name: "llm", Check: chat.Ready},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies the hot-reloadable parts of a changed config.
func applyReload(ctx context.Context, level *slog.LevelVar, store *persona.Store, m *observe.Metrics, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	status := "ok"
	if d.PersonaChanged {
		if err := store.Reload(new.Persona); err != nil {
			slog.Warn("persona reload failed, keeping previous persona", "err", err)
			status = "error"
		} else if p, err := store.Load(); err == nil {
			slog.Info("persona reloaded", "name", p.Name)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	m.RecordConfigReload(ctx, status)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, store *persona.Store) {
	name := persona.DefaultName
	if p, err := store.Load(); err == nil {
		name = p.Name
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Persona chat server summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Persona", name)
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
