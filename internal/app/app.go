package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/trunov/rote-media/cmd/migrate"
	"github.com/trunov/rote-media/internal/cache"
	"github.com/trunov/rote-media/internal/compress"
	"github.com/trunov/rote-media/internal/config"
	"github.com/trunov/rote-media/internal/queue"
	"github.com/trunov/rote-media/internal/r2"
	"github.com/trunov/rote-media/internal/redisholder"
	"github.com/trunov/rote-media/internal/redismanager"
	"github.com/trunov/rote-media/internal/repository/storage"
	"github.com/trunov/rote-media/internal/transport/handler"
	"github.com/trunov/rote-media/internal/transport/router"
	use_case "github.com/trunov/rote-media/internal/use-case"
)

// UseCase is the upload pipeline exposed to the HTTP layer and the CLI.
type UseCase = handler.UseCase

type App struct {
	HttpServer *http.Server
	UseCase    UseCase

	closers []func()
	log     *slog.Logger
}

// New connects every dependency and assembles the upload pipeline. The
// background compress worker runs until ctx is done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{log: slog.Default().With("component", "app")}

	if err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)

	holder, err := redisholder.Build(ctx, &cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = holder.Close() })

	r2Storage, err := r2.NewStorage(&cfg.R2)
	if err != nil {
		a.Close()
		return nil, err
	}
	// drain uploads before the connections underneath go away
	a.closers = append(a.closers, r2Storage.Close)

	deps := use_case.Deps{
		Storage:     repo,
		Objects:     r2Storage,
		Batches:     redismanager.NewManager(holder),
		Dedupe:      cache.NewCache("rote:attachments", holder),
		Transformer: compress.NewTransformer(nil),
	}
	if cfg.Pipeline.Mode == config.CompressDeferred {
		deps.Queue = queue.Init(ctx, holder, cfg.CompressWorker, cfg.Pipeline, r2Storage, repo)
	}
	a.UseCase = use_case.New(deps, cfg.Pipeline)

	h := handler.New(a.UseCase, cfg,
		handler.Check{Name: "postgres", Ping: repo.Ping},
		handler.Check{Name: "redis", Ping: holder.Ping},
	)

	a.HttpServer = &http.Server{
		Handler:      router.NewRouter(h),
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout * time.Second,
	}

	return a, nil
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", "addr", a.HttpServer.Addr)
		errCh <- a.HttpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.log.Info("shutting down")
	return a.HttpServer.Shutdown(shutdownCtx)
}

// Close releases dependencies in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
