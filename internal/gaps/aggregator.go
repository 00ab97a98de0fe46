package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
	"github.com/MikeSquared-Agency/sage/internal/hermes"
	"github.com/MikeSquared-Agency/sage/internal/lock"
)

// Config tunes the sweep.
type Config struct {
	EscalateThreshold float64
	IdleAfter         time.Duration
	BatchLimit        int
	MergeSimilarity   float64
	LockTTL           time.Duration
}

// SweepResult summarises one sweep.
type SweepResult struct {
	ConversationsProcessed int           `json:"conversations_processed"`
	QACached               int           `json:"qa_cached"`
	GapsFound              int           `json:"gaps_found"`
	GapsUpdated            int           `json:"gaps_updated"`
	Failed                 int           `json:"failed"`
	Skipped                bool          `json:"skipped,omitempty"`
	Duration               time.Duration `json:"duration"`
}

// Aggregator mines idle conversations for recurring low-confidence questions.
type Aggregator struct {
	store    Store
	embedder embedding.Service
	cache    QACache
	locker   lock.Locker
	events   hermes.Publisher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	running  atomic.Bool
}

// Option configures optional collaborators.
type Option func(*Aggregator)

// WithEmbedder enables near-duplicate matching by question embedding.
func WithEmbedder(e embedding.Service) Option { return func(a *Aggregator) { a.embedder = e } }

// WithQACache stores confident exchanges for reuse.
func WithQACache(c QACache) Option { return func(a *Aggregator) { a.cache = c } }

// WithLocker guards the sweep across instances.
func WithLocker(l lock.Locker) Option { return func(a *Aggregator) { a.locker = l } }

// WithEvents publishes a summary after every sweep.
func WithEvents(p hermes.Publisher) Option { return func(a *Aggregator) { a.events = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

func NewAggregator(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Aggregator {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 30 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.MergeSimilarity <= 0 {
		cfg.MergeSimilarity = 0.92
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 20 * time.Minute
	}
	a := &Aggregator{store: store, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sweep processes every eligible conversation once. A failing conversation
// is counted in Failed and retried on the next sweep.
func (a *Aggregator) Sweep(ctx context.Context) (SweepResult, error) {
	if !a.running.CompareAndSwap(false, true) {
		return SweepResult{}, domain.ErrSweepInProgress
	}
	defer a.running.Store(false)

	if a.locker != nil {
		unlock, ok, err := a.locker.TryLock(ctx, lock.SweepKey, a.cfg.LockTTL)
		if err != nil {
			return SweepResult{}, fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			a.logger.Info("gap sweep already running elsewhere, skipping")
			return SweepResult{Skipped: true}, nil
		}
		defer unlock()
	}

	start := a.now()
	var result SweepResult

	convs, err := a.store.IdleConversations(ctx, start.Add(-a.cfg.IdleAfter), a.cfg.BatchLimit)
	if err != nil {
		return result, fmt.Errorf("list idle conversations: %w", err)
	}

	for _, conv := range convs {
		if ctx.Err() != nil {
			break
		}
		stats, err := a.processConversation(ctx, conv)
		if err != nil {
			result.Failed++
			a.logger.Error("gap sweep failed for conversation",
				"conversation_id", conv.ID, "tenant_id", conv.TenantID, "error", err)
			continue
		}
		result.ConversationsProcessed++
		result.GapsFound += stats.found
		result.GapsUpdated += stats.updated
		result.QACached += stats.cached
	}

	result.Duration = a.now().Sub(start)
	a.logger.Info("gap sweep completed",
		"conversations", result.ConversationsProcessed,
		"gaps_found", result.GapsFound,
		"gaps_updated", result.GapsUpdated,
		"qa_cached", result.QACached,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	hermes.Emit(a.events, a.logger, hermes.SubjectSweepCompleted, hermes.SweepCompleted{
		ConversationsProcessed: result.ConversationsProcessed,
		QACached:               result.QACached,
		GapsFound:              result.GapsFound,
		GapsUpdated:            result.GapsUpdated,
		Failed:                 result.Failed,
		DurationMS:             result.Duration.Milliseconds(),
	})
	return result, nil
}

type convStats struct {
	found, updated, cached int
}

func (a *Aggregator) processConversation(ctx context.Context, conv domain.Conversation) (convStats, error) {
	var stats convStats

	msgs, err := a.store.ConversationMessages(ctx, conv.ID)
	if err != nil {
		return stats, fmt.Errorf("load messages: %w", err)
	}

	through := conv.LastMessageAt
	for _, m := range msgs {
		if m.CreatedAt.After(through) {
			through = m.CreatedAt
		}
	}

	var gapEx, cacheEx []Exchange
	for _, ex := range Exchanges(msgs, conv.GapsProcessedThrough) {
		switch {
		case ex.IsGap(a.cfg.EscalateThreshold):
			if Key(ex.Category, ex.Question) != "" {
				gapEx = append(gapEx, ex)
			}
		case ex.Cacheable(a.cfg.EscalateThreshold):
			cacheEx = append(cacheEx, ex)
		}
	}

	// Embeddings are computed before the transaction opens.
	vecs := a.embedQuestions(ctx, gapEx)

	var found, updated int
	err = a.store.RecordGaps(ctx, conv.ID, through, func(tx Tx) error {
		found, updated = 0, 0
		for i, ex := range gapEx {
			key := Key(ex.Category, ex.Question)
			gap, err := tx.FindOpenGap(ctx, conv.TenantID, key)
			if err != nil {
				return fmt.Errorf("find gap: %w", err)
			}
			if gap == nil && vecs[i] != nil {
				gap, err = tx.NearestOpenGap(ctx, conv.TenantID, Category(ex.Category), vecs[i], a.cfg.MergeSimilarity)
				if err != nil {
					return fmt.Errorf("nearest gap: %w", err)
				}
			}

			if gap != nil {
				Merge(gap, ex)
				if err := tx.UpdateGap(ctx, gap); err != nil {
					return fmt.Errorf("update gap %s: %w", gap.ID, err)
				}
				updated++
				continue
			}

			if err := tx.InsertGap(ctx, NewGap(conv.TenantID, key, ex, a.now()), vecs[i]); err != nil {
				return fmt.Errorf("insert gap: %w", err)
			}
			found++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.found, stats.updated = found, updated

	if a.cache != nil {
		for _, ex := range cacheEx {
			if err := a.cache.Put(ctx, conv.TenantID, Category(ex.Category), ex.Question, ex.Answer, ex.Confidence); err != nil {
				a.logger.Warn("qa cache write failed", "conversation_id", conv.ID, "error", err)
				continue
			}
			stats.cached++
		}
	}

	return stats, nil
}

// embedQuestions returns one vector per exchange; entries stay nil when no
// embedder is configured or the call fails, which limits matching to exact keys.
func (a *Aggregator) embedQuestions(ctx context.Context, exs []Exchange) [][]float32 {
	vecs := make([][]float32, len(exs))
	if a.embedder == nil {
		return vecs
	}
	for i, ex := range exs {
		vec, err := a.embedder.Embed(ctx, NormalizeQuestion(ex.Question))
		if err != nil {
			a.logger.Warn("embed gap question failed, using exact key only", "error", err)
			continue
		}
		vecs[i] = vec
	}
	return vecs
}
