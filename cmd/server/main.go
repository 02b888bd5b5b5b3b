package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"ecatalog/internal/auth"
	"ecatalog/internal/config"
	"ecatalog/internal/db"
	internalhttp "ecatalog/internal/http"
	"ecatalog/internal/notify"
	"ecatalog/internal/repository"
	"ecatalog/internal/ws"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The revocation list lives in Redis when an address is configured, so
	// several instances agree on which tokens are dead. Without Redis the
	// in-process list still covers a single-instance deployment.
	var blacklist auth.Blacklist
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer client.Close()
		blacklist = auth.NewRedisBlacklist(client)
		slog.Info("token revocation backed by redis", "addr", cfg.RedisAddr)
	} else {
		blacklist = auth.NewMemoryBlacklist()
		slog.Info("token revocation kept in memory")
	}

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, blacklist)
	registry := ws.NewRegistry()
	store := repository.NewStore(pool)
	dispatcher := notify.New(store, registry)

	server := internalhttp.NewServer(cfg, store, tokens, registry, dispatcher)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	registry.Close()
	slog.Info("bye")
}
