package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	Queue         string
	// RetryBackoff is the fixed delay asynq waits before redelivering a
	// failed task.
	RetryBackoff time.Duration
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopOnce sync.Once
}

func newServer(cfg *Config, log logger.Logger) *asynq.Server {
	backoff := cfg.RetryBackoff
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{cfg.Queue: 1},
			RetryDelayFunc: func(int, error, *asynq.Task) time.Duration {
				return backoff
			},
			Logger:   asynqLogger{log.Named("asynq")},
			LogLevel: asynq.WarnLevel,
		},
	)
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		w.server.Shutdown()
	})
	return nil
}

// asynqLogger routes asynq's own messages through the service logger.
type asynqLogger struct {
	log logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
