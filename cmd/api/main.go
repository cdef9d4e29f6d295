package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kwanza-pay/kwanza_pay/internal/config"
	"github.com/kwanza-pay/kwanza_pay/internal/identity"
	"github.com/kwanza-pay/kwanza_pay/internal/infra"
	"github.com/kwanza-pay/kwanza_pay/internal/logging"
	"github.com/kwanza-pay/kwanza_pay/internal/routes"
	"github.com/kwanza-pay/kwanza_pay/internal/server"
	"github.com/kwanza-pay/kwanza_pay/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory backends")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var store wallet.Store
	var users identity.Repository
	if db != nil {
		pgStore := wallet.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Error("ensure wallet schema", "error", err)
			os.Exit(1)
		}
		pgUsers := identity.NewPostgresRepository(db)
		if err := pgUsers.EnsureSchema(ctx); err != nil {
			logger.Error("ensure users schema", "error", err)
			os.Exit(1)
		}
		store = pgStore
		users = pgUsers
	} else {
		store = wallet.NewMemoryStore()
		users = identity.NewMemoryRepository()
	}

	srv, err := server.New(routes.Deps{
		Cfg:    cfg,
		DB:     db,
		Cache:  cache,
		Logger: logger,
		Store:  store,
		Users:  users,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	reaper := wallet.NewReaper(store, cfg.ReaperInterval, logger)
	reaper.Start()
	defer reaper.Stop()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
