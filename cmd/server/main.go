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

	"github.com/joho/godotenv"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/server"
	"chatrelay/internal/util"
	"chatrelay/pkg/store"
	"chatrelay/pkg/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init postgres store", "err", err)
	}

	redisCfg := stream.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	// Shared client for appends, cache writes, and health checks; tailers
	// open their own.
	redisClient := stream.NewClient(redisCfg)
	defer redisClient.Close()
	roomLog := stream.NewLog(redisClient, redisCfg)
	recentCache := stream.NewCache(redisClient)

	relay, err := app.New(app.Config{
		Store:        dataStore,
		Log:          roomLog,
		Cache:        recentCache,
		Logger:       slog.Default(),
		StoreWorkers: cfg.StoreWorkers,
	})
	if err != nil {
		util.Fatal("failed to init relay", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.WriteRateLimit > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "", cfg.WriteRateLimit, time.Minute)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:     relay,
		Store:   dataStore,
		Limiter: limiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("chat relay listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}
