package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/medical-document-processor/api/handlers"
	"github.com/feichai0017/medical-document-processor/api/routes"
	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/app"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.Log, "server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	pool, err := repository.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database", logger.Error(err))
	}
	defer pool.Close()

	q := queue.NewAsynqQueue(app.QueueConfig(cfg))
	defer q.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	h := handlers.NewHandlers(repository.NewPostgresGateway(pool, log), q, map[string]handlers.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.AllowOrigins)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", logger.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
