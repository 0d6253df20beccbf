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
	"github.com/robfig/cron/v3"

	"clicker-backend/internal/config"
	"clicker-backend/internal/ranker"
	"clicker-backend/internal/repository"
	"clicker-backend/internal/rpc"
	"clicker-backend/pkg/database"
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
	log = log.Named("ranker")

	log.WithFields(map[string]interface{}{
		"rpc_addr":    cfg.RPCAddr,
		"refresh_ms":  cfg.RankRefresh.Milliseconds(),
		"environment": cfg.Environment,
	}).Info("Starting ranker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	redisClient, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	boardRepo := repository.NewLeaderboardRepository(db)
	refresher := ranker.NewRefresher(boardRepo, redisClient, cfg.TopKSize, cfg.LeaderboardSize, log)

	scheduler := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.RankRefresh), func() {
		refreshCtx, refreshCancel := context.WithTimeout(ctx, 2*cfg.RankRefresh+5*time.Second)
		defer refreshCancel()
		if err := refresher.RefreshAndPublish(refreshCtx); err != nil {
			log.WithError(err).Error("leaderboard refresh failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule leaderboard refresh")
	}
	scheduler.Start()
	defer scheduler.Stop()

	svc := ranker.NewService(boardRepo, redisClient, cfg.TopKSize, cfg.LeaderboardSize, log)
	srv := rpc.NewServer(log, cfg.RPCTimeout)
	svc.Register(srv)

	rpcErrChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(ctx, cfg.RPCAddr); err != nil {
			rpcErrChan <- err
		}
	}()

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		healthCtx, healthCancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer healthCancel()
		if err := db.Health(healthCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	healthServer := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-rpcErrChan:
		log.WithError(err).Error("RPC server failed, initiating shutdown")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shutdown health server")
	}
	<-scheduler.Stop().Done()
	log.Info("Ranker shutdown complete")
}
