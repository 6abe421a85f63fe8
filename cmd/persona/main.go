// Command persona is the voice client of Persona. It listens through the
// configured speech recognizer, asks the chat backend for a reply and speaks
// it, driven by one-letter commands on stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/persona/internal/app"
	"github.com/MrWong99/persona/internal/builtin"
	"github.com/MrWong99/persona/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults only when empty)")
	backend := flag.String("backend", "", "override client.backend_url")
	input := flag.String("input", "", "override client.audio.input (raw PCM file or FIFO)")
	output := flag.String("output", "", "override client.audio.output (raw PCM file or FIFO)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "persona: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "persona: %v\n", err)
		}
		return 1
	}
	if *backend != "" {
		cfg.Client.BackendURL = *backend
	}
	if *input != "" {
		cfg.Client.Audio.Input = *input
	}
	if *output != "" {
		cfg.Client.Audio.Output = *output
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The console owns stdout; logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	})))

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	builtin.Register(reg)
	sttProvider, ttsProvider, err := builtin.Speech(cfg.Providers, reg, os.Getenv)
	if err != nil {
		slog.Error("failed to build speech providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, &app.Providers{STT: sttProvider, TTS: ttsProvider})
	if err != nil {
		slog.Error("failed to initialise voice client", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}
