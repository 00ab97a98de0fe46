package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sage/internal/domain"
	"github.com/MikeSquared-Agency/sage/internal/embedding"
	"github.com/MikeSquared-Agency/sage/internal/ingest"
	"github.com/MikeSquared-Agency/sage/internal/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sample900 is exactly 900 characters: 112 eight-byte words plus "tail".
func sample900() string {
	words := make([]string, 0, 113)
	for i := 0; i < 112; i++ {
		words = append(words, fmt.Sprintf("w%06d", i))
	}
	words = append(words, "tail")
	return strings.Join(words, " ")
}

func newSource(t *testing.T, s *memstore.Store, typ domain.SourceType, content string) *domain.Source {
	t.Helper()
	src := &domain.Source{TenantID: uuid.New(), Title: "Handbook", Type: typ, Content: content}
	require.NoError(t, s.CreateSource(context.Background(), src))
	return src
}

func newPipeline(s *memstore.Store, emb embedding.Service, opts ...ingest.Option) *ingest.Pipeline {
	return ingest.NewPipeline(s, s, emb, ingest.Config{ChunkSize: 500, ChunkOverlap: 50}, discardLogger(), opts...)
}

type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]any
}

func (c *capturePublisher) Publish(subject string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		c.events = make(map[string][]any)
	}
	c.events[subject] = append(c.events[subject], data)
	return nil
}

func TestIngest_900CharSource(t *testing.T) {
	require.Len(t, sample900(), 900)

	s := memstore.New()
	src := newSource(t, s, domain.SourceText, sample900())
	pub := &capturePublisher{}

	n, err := newPipeline(s, embedding.NewHash(64), ingest.WithEvents(pub)).Ingest(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceIndexed, got.Status)
	assert.NotNil(t, got.LastIndexedAt)
	assert.Empty(t, got.LastError)

	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, "Handbook", c.Metadata.SourceTitle)
		assert.Equal(t, src.TenantID, c.TenantID)
		assert.Len(t, c.Embedding, 64)
	}
	assert.Len(t, pub.events["sage.source.indexed"], 1)
}

func TestIngest_Idempotent(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, sample900())
	p := newPipeline(s, embedding.NewHash(64))

	for i := 0; i < 3; i++ {
		n, err := p.Ingest(context.Background(), src.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestIngest_EmptyContent(t *testing.T) {
	for _, content := range []string{"", "   \n\t  "} {
		s := memstore.New()
		src := newSource(t, s, domain.SourceFAQ, content)
		pub := &capturePublisher{}

		n, err := newPipeline(s, embedding.NewHash(64), ingest.WithEvents(pub)).Ingest(context.Background(), src.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.GetSource(context.Background(), src.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SourceFailed, got.Status)
		assert.Equal(t, ingest.NoContentError, got.LastError)
		assert.Len(t, pub.events["sage.source.failed"], 1)
	}
}

func TestIngest_UnknownSource(t *testing.T) {
	s := memstore.New()
	_, err := newPipeline(s, embedding.NewHash(64)).Ingest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// flakyEmbedder fails every call after the first ok calls.
type flakyEmbedder struct {
	*embedding.Hash
	ok    int32
	calls atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) > f.ok {
		return nil, errors.New("provider timeout")
	}
	return f.Hash.Embed(ctx, text)
}

func TestIngest_EmbedFailureKeepsPreviousChunks(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, sample900())

	_, err := newPipeline(s, embedding.NewHash(64)).Ingest(context.Background(), src.ID)
	require.NoError(t, err)

	flaky := &flakyEmbedder{Hash: embedding.NewHash(64), ok: 1}
	n, err := newPipeline(s, flaky).Ingest(context.Background(), src.ID)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "provider timeout")

	got, err := s.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFailed, got.Status)
	assert.Contains(t, got.LastError, "provider timeout")
	assert.NotNil(t, got.LastIndexedAt)

	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

// plainIndex hides ReplaceChunks so the pipeline takes the delete-then-upsert
// path, and fails the upsert of one chunk.
type plainIndex struct {
	s      *memstore.Store
	failAt int
}

func (p *plainIndex) Upsert(ctx context.Context, c domain.Chunk) error {
	if c.Metadata.ChunkIndex == p.failAt {
		return errors.New("disk full")
	}
	return p.s.Upsert(ctx, c)
}

func (p *plainIndex) DeleteBySource(ctx context.Context, tenantID, sourceID uuid.UUID) error {
	return p.s.DeleteBySource(ctx, tenantID, sourceID)
}

func TestIngest_PartialWriteCleanedUp(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, sample900())

	p := ingest.NewPipeline(s, &plainIndex{s: s, failAt: 1}, embedding.NewHash(64), ingest.Config{}, discardLogger())
	_, err := p.Ingest(context.Background(), src.ID)
	require.Error(t, err)

	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	got, err := s.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFailed, got.Status)
}

func TestIngest_PlainIndexSuccess(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, sample900())

	p := ingest.NewPipeline(s, &plainIndex{s: s, failAt: -1}, embedding.NewHash(64), ingest.Config{}, discardLogger())
	for i := 0; i < 2; i++ {
		n, err := p.Ingest(context.Background(), src.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestIngest_HTMLURLSource(t *testing.T) {
	s := memstore.New()
	html := `<html><head><title>Shop</title><script>var tracking = 1;</script></head>
<body><nav>Home | About</nav><h1>Opening hours</h1><p>We open at nine.</p><p>Closed on Sunday.</p></body></html>`
	src := newSource(t, s, domain.SourceURL, html)

	n, err := newPipeline(s, embedding.NewHash(64)).Ingest(context.Background(), src.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shop Opening hours We open at nine. Closed on Sunday.", chunks[0].Content)
}

func TestIngest_HTMLInTextSourceIsKept(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, "<p>literal markup</p>")

	_, err := newPipeline(s, embedding.NewHash(64)).Ingest(context.Background(), src.ID)
	require.NoError(t, err)
	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "<p>literal markup</p>", chunks[0].Content)
}

// gatedEmbedder blocks the first Embed call until released.
type gatedEmbedder struct {
	*embedding.Hash
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Hash.Embed(ctx, text)
}

// countingSources counts GetSource calls.
type countingSources struct {
	*memstore.Store
	gets atomic.Int32
}

func (c *countingSources) GetSource(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	c.gets.Add(1)
	return c.Store.GetSource(ctx, id)
}

func TestIngest_SerialisedPerSource(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, "short text about opening hours")
	cs := &countingSources{Store: s}
	emb := &gatedEmbedder{Hash: embedding.NewHash(64), entered: make(chan struct{}), release: make(chan struct{})}
	p := ingest.NewPipeline(cs, s, emb, ingest.Config{}, discardLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.Ingest(context.Background(), src.ID)
		assert.NoError(t, err)
	}()
	<-emb.entered

	go func() {
		defer wg.Done()
		_, err := p.Ingest(context.Background(), src.ID)
		assert.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), cs.gets.Load(), "second ingest must wait for the first")

	close(emb.release)
	wg.Wait()
	assert.Equal(t, int32(2), cs.gets.Load())

	chunks, err := s.SourceChunks(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestIngest_LockWaitBoundedByContext(t *testing.T) {
	s := memstore.New()
	src := newSource(t, s, domain.SourceText, "some words")
	emb := &gatedEmbedder{Hash: embedding.NewHash(64), entered: make(chan struct{}), release: make(chan struct{})}
	p := ingest.NewPipeline(s, s, emb, ingest.Config{}, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Ingest(context.Background(), src.ID)
	}()
	<-emb.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Ingest(ctx, src.ID)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	close(emb.release)
	<-done
}
