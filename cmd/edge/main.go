package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"clicker-backend/internal/config"
	"clicker-backend/internal/edge"
	"clicker-backend/internal/rpc"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log = log.Named("edge")

	log.WithFields(map[string]interface{}{
		"port":        cfg.Port,
		"aggregators": cfg.AggregatorAddrs,
		"ranker":      cfg.RankerAddr,
		"environment": cfg.Environment,
	}).Info("Starting edge server")

	redisClient, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	router := rpc.NewAggregatorRouter(cfg.AggregatorAddrs, cfg.NShards, cfg.RPCPoolSize, cfg.RPCTimeout, log)
	defer router.Close()
	game := rpc.NewGameClient(router)
	leaderboard := rpc.NewLeaderboardClient(rpc.Dial(cfg.RankerAddr, cfg.RPCPoolSize, cfg.RPCTimeout, log))
	defer leaderboard.Close()

	registry := edge.NewRegistry()
	handler := edge.NewHandler(game, leaderboard, redisClient, registry, edge.HandlerConfig{
		ScorePush:       cfg.ScorePush,
		LeaderboardPush: cfg.LeaderboardPush,
		RPCTimeout:      cfg.RPCTimeout,
		MaxBatch:        cfg.MaxBatch,
		BoardLen:        cfg.LeaderboardSize,
	}, log)

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/ws", handler.ServeWS)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := redisClient.Health(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, registry.Count())
	})

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Edge listening on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrChan:
		log.WithError(err).Error("Server failed, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shutdown HTTP server")
		os.Exit(1)
	}
	log.Info("Edge shutdown complete")
}
