package redisholder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trunov/rote-media/internal/config"
)

// Build connects to Redis, preferring cluster mode, and keeps the connection
// healthy in the background until ctx is done.
func Build(ctx context.Context, cfg *config.RedisConfig) (*Holder, error) {
	log := slog.Default().With("component", "redis")

	var cl redis.UniversalClient
	cl, err := newClusterClient(ctx, cfg)
	if err != nil {
		clusterErr := err
		cl, err = newClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		log.Info("cluster client failed, using single-node client", "err", clusterErr)
	}

	h := NewHolder(cl)

	if cfg.HealthCheckInterval > 0 {
		go healthLoop(ctx, h, cfg, log)
	}

	return h, nil
}

func healthLoop(ctx context.Context, h *Holder, cfg *config.RedisConfig, log *slog.Logger) {
	interval := cfg.HealthCheckInterval * time.Second
	log.Info("health loop started", "interval", interval)

	ping := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.Get().Ping(pingCtx).Err()
		cancel()

		if err == nil {
			return
		}
		log.Warn("ping failed, reconnecting", "err", err)

		// Rebuild client (cluster first, then fallback)
		newCl, newErr := reconnect(ctx, cfg)
		if newErr != nil {
			log.Error("reconnect failed", "err", newErr)
			return
		}

		if old := h.swap(newCl); old != nil {
			_ = old.Close()
		}
		log.Info("reconnected")
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Close()
			log.Info("health loop stopped", "err", ctx.Err())
			return
		case <-t.C:
			ping()
		}
	}
}

func reconnect(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if cl, err := newClusterClient(ctx, cfg); err == nil {
		return cl, nil
	}
	return newClient(ctx, cfg)
}

func addrs(cfg *config.RedisConfig) []string {
	out := make([]string, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		out = append(out, node.Addr())
	}
	return out
}

func newClusterClient(ctx context.Context, cfg *config.RedisConfig) (*redis.ClusterClient, error) {
	if len(cfg.Nodes) < 2 {
		return nil, errors.New("cluster mode needs at least two nodes")
	}

	cl := redis.NewClusterClient(&redis.ClusterOptions{
		RouteByLatency: true,
		Password:       cfg.Password,
		Addrs:          addrs(cfg),
		DialTimeout:    cfg.DialTimeout * time.Second,
		ReadTimeout:    cfg.ReadTimeout * time.Second,
		WriteTimeout:   cfg.WriteTimeout * time.Second,
		PoolSize:       poolSize(cfg),
		PoolTimeout:    30 * time.Second,
		MaxRetries:     5,
	})

	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("error pinging redis cluster: %w", err)
	}

	return cl, nil
}

func newClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	var stickyErr = errors.New("no nodes defined")

	for _, addr := range addrs(cfg) {
		cl := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DatabaseID,
			DialTimeout:  cfg.DialTimeout * time.Second,
			ReadTimeout:  cfg.ReadTimeout * time.Second,
			WriteTimeout: cfg.WriteTimeout * time.Second,
			PoolSize:     poolSize(cfg),
		})

		if err := cl.Ping(ctx).Err(); err != nil {
			_ = cl.Close()
			stickyErr = fmt.Errorf("error pinging redis server %s: %w", addr, err)
			continue
		}

		return cl, nil
	}

	return nil, stickyErr
}

func poolSize(cfg *config.RedisConfig) int {
	if cfg.PoolSize > 0 {
		return cfg.PoolSize
	}
	return 20
}
