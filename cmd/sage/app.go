package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/sage/internal/anthropic"
	"github.com/MikeSquared-Agency/sage/internal/api"
	"github.com/MikeSquared-Agency/sage/internal/assistant"
	"github.com/MikeSquared-Agency/sage/internal/config"
	"github.com/MikeSquared-Agency/sage/internal/conversation"
	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
	"github.com/MikeSquared-Agency/sage/internal/gaps"
	"github.com/MikeSquared-Agency/sage/internal/hermes"
	"github.com/MikeSquared-Agency/sage/internal/ingest"
	"github.com/MikeSquared-Agency/sage/internal/lock"
	"github.com/MikeSquared-Agency/sage/internal/memstore"
	"github.com/MikeSquared-Agency/sage/internal/policy"
	"github.com/MikeSquared-Agency/sage/internal/qacache"
	"github.com/MikeSquared-Agency/sage/internal/retrieval"
	"github.com/MikeSquared-Agency/sage/internal/store"
	"github.com/MikeSquared-Agency/sage/internal/telemetry"
)

// dataStore is everything the service persists. It is satisfied by the
// Postgres store and by the in-memory store used for local runs.
type dataStore interface {
	CreateSource(ctx context.Context, src *domain.Source) error
	ingest.Sources
	ingest.Index
	ingest.ChunkReplacer
	retrieval.Index
	assistant.Store
	conversation.Store
	gaps.Store
	gaps.ConsolidateStore
	Ping(ctx context.Context) error
	Close()
}

var (
	_ dataStore = (*store.Store)(nil)
	_ dataStore = (*memstore.Store)(nil)
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    dataStore
	redis    *redis.Client
	events   *hermes.Client
	embedder *embedding.Executor
	locker   lock.Locker
	pipeline *ingest.Pipeline
	closers  []func()
}

type appOptions struct {
	requireDB bool
	events    bool
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	shutdown, err := telemetry.InitTracer(ctx, "sage", version, a.cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	})

	switch {
	case a.cfg.DatabaseURL != "":
		db, err := store.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.store = db
		a.closers = append(a.closers, db.Close)
		a.logger.Info("database connected")
	case opts.requireDB:
		return errors.New("DATABASE_URL is required")
	default:
		a.store = memstore.New()
		a.logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	a.locker = lock.NewLocal()
	if a.cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(ropts)
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.locker = lock.NewRedis(a.redis, 2*a.cfg.GapSweepInterval, a.logger)
		a.logger.Info("redis connected")
	}

	if opts.events && a.cfg.NatsURL != "" {
		client, err := hermes.NewClient(ctx, a.cfg.NatsURL, a.cfg.NatsToken, a.logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.events = client
		a.closers = append(a.closers, client.Close)
		a.logger.Info("NATS connected", "url", a.cfg.NatsURL)
	}

	svc, err := buildEmbedder(ctx, a.cfg)
	if err != nil {
		return err
	}
	if c, ok := svc.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}
	a.embedder, err = embedding.NewExecutor(svc, embedding.ExecutorConfig{
		Workers: a.cfg.EmbedWorkers,
		RPS:     a.cfg.EmbedRPS,
		Timeout: a.cfg.EmbedTimeout,
	}, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.embedder.Close)
	a.logger.Info("embedding service ready", "provider", a.cfg.EmbeddingProvider, "model", svc.Model(), "dimensions", svc.Dimensions())

	a.pipeline = ingest.NewPipeline(a.store, a.store, a.embedder, ingest.Config{
		ChunkSize:    a.cfg.ChunkSize,
		ChunkOverlap: a.cfg.ChunkOverlap,
	}, a.logger, ingest.WithLocker(a.locker), ingest.WithEvents(a.publisher()))
	return nil
}

func buildEmbedder(ctx context.Context, cfg config.Config) (embedding.Service, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedding.NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingBaseURL, cfg.EmbeddingDimensions), nil
	case "gemini":
		return embedding.NewGemini(ctx, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	default:
		return embedding.NewHash(cfg.EmbeddingDimensions), nil
	}
}

// publisher returns nil when NATS is not connected so events are skipped.
func (a *app) publisher() hermes.Publisher {
	if a.events == nil {
		return nil
	}
	return a.events
}

func (a *app) aggregator() *gaps.Aggregator {
	opts := []gaps.Option{
		gaps.WithEmbedder(a.embedder),
		gaps.WithLocker(a.locker),
		gaps.WithEvents(a.publisher()),
	}
	if a.redis != nil {
		opts = append(opts, gaps.WithQACache(qacache.New(a.redis, a.cfg.QACacheTTL)))
	}
	return gaps.NewAggregator(a.store, gaps.Config{
		EscalateThreshold: a.cfg.EscalateThreshold,
		IdleAfter:         a.cfg.GapIdleAfter,
		BatchLimit:        a.cfg.GapBatchLimit,
		MergeSimilarity:   a.cfg.GapMergeSimilarity,
		LockTTL:           2 * a.cfg.GapSweepInterval,
	}, a.logger, opts...)
}

func (a *app) assistant(machine *conversation.Machine) (*assistant.Assistant, error) {
	p, err := policy.New(a.cfg.EscalateThreshold, a.cfg.RefuseThreshold)
	if err != nil {
		return nil, err
	}
	if a.cfg.AnthropicAPIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required")
	}
	llm := anthropic.NewClient(a.cfg.AnthropicAPIKey, a.cfg.AnthropicModel)
	a.logger.Info("anthropic client ready", "model", a.cfg.AnthropicModel)

	retriever := retrieval.NewRetriever(a.embedder, a.store, a.cfg.QueryTimeout, a.logger)
	opts := []assistant.Option{
		assistant.WithRetrievalOptions(retrieval.Options{
			TopK:          a.cfg.RetrievalTopK,
			MinSimilarity: retrieval.Floor(a.cfg.SimilarityThreshold),
		}),
	}
	if a.redis != nil {
		opts = append(opts, assistant.WithCache(qacache.New(a.redis, a.cfg.QACacheTTL)))
	}
	return assistant.New(a.store, retriever, llm, machine, p, a.logger, opts...), nil
}

func (a *app) checks() map[string]api.Check {
	checks := map[string]api.Check{"store": a.store.Ping}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.events != nil {
		checks["nats"] = func(context.Context) error {
			if !a.events.Connected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	return checks
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func parseUUIDArg(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return id, nil
}
