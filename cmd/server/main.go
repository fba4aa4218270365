package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lbarena/scoring-engine/internal/api"
	"github.com/lbarena/scoring-engine/internal/betting"
	"github.com/lbarena/scoring-engine/internal/config"
	"github.com/lbarena/scoring-engine/internal/engine"
	"github.com/lbarena/scoring-engine/internal/leaderboard"
	"github.com/lbarena/scoring-engine/internal/ledger"
	"github.com/lbarena/scoring-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Configuration (hot-reloadable) ---
	cfgPath := os.Getenv("ARENA_CONFIG")
	cfgProvider, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if cfgPath != "" {
		cfgProvider.Watch(func(err error) {
			slog.Error("config reload rejected, keeping previous snapshot", "err", err)
		})
	}
	cfg := cfgProvider.Get()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Domain services ---
	ledgerSvc := ledger.NewService(st, cfg.Betting.HouseAccount)
	stakeLimiter := betting.NewStakeLimiter(cfg.Betting.MaxStakePerMatch, cfg.Betting.MaxOpenStake)
	bettingSvc := betting.NewService(st, ledgerSvc, cfg.Betting.VigRate, cfg.Betting.VigSinkAccount, stakeLimiter)
	eng := engine.New(st, cfgProvider, ledgerSvc, bettingSvc)
	leaderboardSvc := leaderboard.NewService(st, cfgProvider)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- HTTP router ---
	apiSvc := api.NewService(st, cfgProvider, eng, bettingSvc, ledgerSvc, leaderboardSvc, wsHub)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      apiSvc.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("scoring-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down scoring-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("scoring-engine stopped")
}
