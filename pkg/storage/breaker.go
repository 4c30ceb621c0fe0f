package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/feichai0017/medical-document-processor/internal/metrics"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

type BreakerSettings struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// Breaker guards a Storage with a circuit breaker. Missing keys are not
// counted as failures.
type Breaker struct {
	inner  Storage
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger logger.Logger
}

func NewBreaker(inner Storage, s BreakerSettings, log logger.Logger) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	log = log.Named("storage_breaker").With(logger.String("breaker", s.Name))

	gauge := metrics.StorageBreakerState.WithLabelValues(s.Name)
	gauge.Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			gauge.Set(float64(to))
			log.Warn("Storage breaker changed state",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})

	return &Breaker{inner: inner, cb: cb, logger: log}
}

func (b *Breaker) Fetch(ctx context.Context, key string) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.inner.Fetch(ctx, key)
	})
}

func (b *Breaker) Store(ctx context.Context, key string, r io.Reader) error {
	_, err := b.cb.Execute(func() ([]byte, error) {
		return nil, b.inner.Store(ctx, key, r)
	})
	return err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
