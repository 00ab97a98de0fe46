package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/MikeSquared-Agency/sage/internal/hermes"
)

// Trigger schedules asynchronous ingestion of a source.
type Trigger interface {
	Enqueue(ctx context.Context, sourceID uuid.UUID) error
}

// Background runs ingestion on an in-process worker pool. It is used when
// no task queue is configured. Triggers for a source that is already
// pending are collapsed into the queued run.
type Background struct {
	ingester Ingester
	pool     *ants.Pool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]bool
}

var _ Trigger = (*Background)(nil)

func NewBackground(ingester Ingester, workers int, logger *slog.Logger) (*Background, error) {
	if workers <= 0 {
		workers = 2
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("ingest pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{
		ingester: ingester,
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		pending:  make(map[uuid.UUID]bool),
	}, nil
}

// Enqueue schedules sourceID and returns without waiting for a worker.
func (b *Background) Enqueue(_ context.Context, sourceID uuid.UUID) error {
	if b.ctx.Err() != nil {
		return fmt.Errorf("background ingest stopped")
	}

	b.mu.Lock()
	if b.pending[sourceID] {
		b.mu.Unlock()
		b.logger.Debug("ingest already pending", "source_id", sourceID)
		return nil
	}
	b.pending[sourceID] = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		done := make(chan struct{})
		err := b.pool.Submit(func() {
			defer close(done)
			b.run(sourceID)
		})
		if err != nil {
			b.clear(sourceID)
			b.logger.Error("submit ingest failed", "source_id", sourceID, "error", err)
			return
		}
		<-done
	}()
	return nil
}

func (b *Background) run(sourceID uuid.UUID) {
	b.clear(sourceID)
	n, err := b.ingester.Ingest(b.ctx, sourceID)
	if err != nil {
		b.logger.Error("background ingest failed", "source_id", sourceID, "error", err)
		return
	}
	b.logger.Debug("background ingest done", "source_id", sourceID, "chunks", n)
}

func (b *Background) clear(sourceID uuid.UUID) {
	b.mu.Lock()
	delete(b.pending, sourceID)
	b.mu.Unlock()
}

// Close cancels running ingestions and waits for them to return.
func (b *Background) Close() {
	b.cancel()
	b.wg.Wait()
	b.pool.Release()
}

// Subscriber is the subscribe side of the event bus.
type Subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// SubscribeChanges enqueues ingestion for every sage.source.changed event.
func SubscribeChanges(sub Subscriber, trigger Trigger, logger *slog.Logger) error {
	return sub.Subscribe(hermes.SubjectSourceChanged, func(_ string, data []byte) {
		id, err := hermes.ParseSourceChanged(data)
		if err != nil {
			logger.Warn("ignoring malformed source change", "error", err)
			return
		}
		if err := trigger.Enqueue(context.Background(), id); err != nil {
			logger.Error("enqueue ingest failed", "source_id", id, "error", err)
		}
	})
}
