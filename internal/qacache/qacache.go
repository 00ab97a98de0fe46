// Package qacache keeps confident answers in Redis keyed by tenant and
// normalized question, so an identical question can be answered again
// without retrieval or a completion call.
package qacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/sage/internal/gaps"
)

const (
	keyPrefix  = "sage:qa:"
	DefaultTTL = 7 * 24 * time.Hour
)

var _ gaps.QACache = (*Cache)(nil)

// Entry is one cached answer.
type Entry struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	CachedAt   time.Time `json:"cached_at"`
}

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl, now: time.Now}
}

// key returns "" for questions that normalize to nothing.
func key(tenantID uuid.UUID, category, question string) string {
	k := gaps.Key(category, question)
	if k == "" {
		return ""
	}
	return keyPrefix + tenantID.String() + ":" + k
}

// Put stores an answer, replacing any previous entry for the same question.
func (c *Cache) Put(ctx context.Context, tenantID uuid.UUID, category, question, answer string, confidence float64) error {
	k := key(tenantID, category, question)
	if k == "" || answer == "" {
		return nil
	}
	data, err := json.Marshal(Entry{
		Question:   question,
		Answer:     answer,
		Confidence: confidence,
		CachedAt:   c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal qa entry: %w", err)
	}
	if err := c.client.Set(ctx, k, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set qa entry: %w", err)
	}
	return nil
}

// Get returns the cached answer for the question, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, tenantID uuid.UUID, category, question string) (*Entry, bool, error) {
	k := key(tenantID, category, question)
	if k == "" {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get qa entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal qa entry: %w", err)
	}
	return &e, true, nil
}
