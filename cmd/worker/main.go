package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/app"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
	"github.com/feichai0017/medical-document-processor/pkg/storage"
	"github.com/feichai0017/medical-document-processor/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.Log, "worker")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Worker failed", logger.Error(err))
	}
	log.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := storage.NewStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}

	pool, err := repository.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	pipeline, err := app.NewPipeline(ctx, cfg, store, repository.NewPostgresGateway(pool, log), log)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	q := queue.NewAsynqQueue(app.QueueConfig(cfg))
	defer q.Close()

	documentWorker := worker.NewDocumentWorker(&worker.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Worker.Concurrency,
		Queue:         cfg.Worker.Queue,
		RetryBackoff:  cfg.Worker.RetryBackoff(),
	}, pipeline.Service, q, log)

	if err := documentWorker.Start(ctx); err != nil {
		return err
	}
	log.Info("Worker started",
		logger.String("queue", cfg.Worker.Queue),
		logger.Int("concurrency", cfg.Worker.Concurrency),
		logger.String("ocr_engine", cfg.Pipeline.OCREngine),
		logger.Bool("htr_enabled", cfg.HTR.Enabled))

	<-ctx.Done()
	log.Info("Shutting down worker...")
	return documentWorker.Stop()
}
