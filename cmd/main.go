package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/pflag"
	"github.com/trunov/rote-media/internal/app"
	"github.com/trunov/rote-media/internal/config"
)

const version = "v1"

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	sentry.Flush(2 * time.Second)
	os.Exit(1)
}

func main() {
	configPath := pflag.StringP("config", "c", "config.json", "path to the JSON config file")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.NewConfig()
	if err := cfg.Read(*configPath); err != nil {
		fatal("read config", err)
	}

	if err := initSentry(&cfg.Sentry, version); err != nil {
		fatal("sentry.Init", err)
	}

	// Flush buffered events before the program terminates.
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		sentry.CaptureException(err)
		fatal("init app", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		sentry.CaptureException(err)
		slog.Error("server stopped", "err", err)
	}
}
