package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// ExecutorConfig bounds calls to an embedding backend.
type ExecutorConfig struct {
	Workers int
	RPS     float64
	Timeout time.Duration
}

// Executor runs embedding calls on a bounded worker pool behind a rate
// limiter and a circuit breaker. Every call is bounded by Timeout.
type Executor struct {
	svc     Service
	pool    *ants.Pool
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

var _ Service = (*Executor)(nil)

func NewExecutor(svc Service, cfg ExecutorConfig, logger *slog.Logger) (*Executor, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}

	limit := rate.Inf
	burst := cfg.Workers
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		if b := int(cfg.RPS); b > burst {
			burst = b
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding:" + svc.Model(),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEmptyInput) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Executor{
		svc:     svc,
		pool:    pool,
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (e *Executor) Dimensions() int { return e.svc.Dimensions() }

func (e *Executor) Model() string { return e.svc.Model() }

type embedResult struct {
	vec []float32
	err error
}

// Embed waits for a rate-limit token, then runs the backend call on the pool.
// The caller is released as soon as ctx or the timeout expires.
func (e *Executor) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limit: %w", err)
	}

	done := make(chan embedResult, 1)
	err := e.pool.Submit(func() {
		out, err := e.breaker.Execute(func() (interface{}, error) {
			return e.svc.Embed(ctx, text)
		})
		if err != nil {
			done <- embedResult{err: err}
			return
		}
		done <- embedResult{vec: out.([]float32)}
	})
	if err != nil {
		return nil, fmt.Errorf("submit embed: %w", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, gobreaker.ErrOpenState) || errors.Is(r.err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: embedding backend: %v", domain.ErrServiceUnavailable, r.err)
			}
			return nil, r.err
		}
		if d := e.svc.Dimensions(); d > 0 && len(r.vec) != d {
			return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(r.vec), d)
		}
		return r.vec, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("embed: %w", ctx.Err())
	}
}

// Running reports the number of in-flight embedding calls.
func (e *Executor) Running() int {
	return e.pool.Running()
}

func (e *Executor) Close() {
	e.pool.Release()
}
