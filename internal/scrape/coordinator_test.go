package scrape

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/pkg/logger"
)

type memStore struct {
	mu    sync.Mutex
	posts []models.Post
	seen  map[models.PostKey]struct{}
	id    int64
}

func newMemStore() *memStore {
	return &memStore{seen: make(map[models.PostKey]struct{})}
}

func (s *memStore) Seen(key models.PostKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

func (s *memStore) Append(ctx context.Context, p models.Post) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[p.Key()]; ok {
		return false, nil
	}
	s.seen[p.Key()] = struct{}{}
	s.posts = append(s.posts, p)
	return true, nil
}

func (s *memStore) UpdateSymbol(ctx context.Context, id int64, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.posts {
		if s.posts[i].ID == id {
			s.posts[i].TokenSymbol = symbol
		}
	}
	return nil
}

func (s *memStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = nil
	s.seen = make(map[models.PostKey]struct{})
	return nil
}

func (s *memStore) All(ctx context.Context) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Post, len(s.posts))
	copy(out, s.posts)
	return out, nil
}

func (s *memStore) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id++
	return s.id
}

type fakeWorker struct {
	tag       string
	pages     [][]repository.Candidate
	nextPage  int
	mu        sync.Mutex
}

func (w *fakeWorker) SourceTag() string { return w.tag }

func (w *fakeWorker) FetchListing(ctx context.Context, page int) ([]repository.Candidate, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if page >= len(w.pages) {
		return nil, false, nil
	}
	return w.pages[page], page < len(w.pages)-1, nil
}

func (w *fakeWorker) FetchComments(ctx context.Context, c repository.Candidate, limit int) ([]string, error) {
	return nil, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordScrapePost(string)                     {}
func (noopMetrics) RecordScrapeError(string, string)            {}
func (noopMetrics) RecordResolverQueueDepth(int)                {}
func (noopMetrics) RecordResolverLatency(string, float64)       {}
func (noopMetrics) RecordProviderLatency(string, float64)       {}
func (noopMetrics) RecordProviderCooldown(string)               {}
func (noopMetrics) RecordPipelineStageDuration(string, float64) {}
func (noopMetrics) RecordEventDropped(string)                   {}

type noopResolver struct{}

func (noopResolver) Resolve(ctx context.Context, p models.Post) (string, error) { return "", nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func TestCoordinator_DedupAcrossSources(t *testing.T) {
	store := newMemStore()
	workerA := &fakeWorker{tag: "A", pages: [][]repository.Candidate{
		{{Source: "A", Link: "L", Timestamp: time.Now()}},
	}}
	workerB := &fakeWorker{tag: "B", pages: [][]repository.Candidate{
		{{Source: "B", Link: "L", Timestamp: time.Now()}},
	}}

	c := New(store, noopResolver{}, noopMetrics{}, testLogger(t))
	stats := c.Run(context.Background(), []repository.Worker{workerA, workerB}, 14*24*time.Hour, 5*time.Second, DefaultLimits())

	require.Equal(t, 2, stats.PostsAdded)
	require.Len(t, store.posts, 2)

	// Re-running source A with the same (source, link) adds nothing new.
	workerA2 := &fakeWorker{tag: "A", pages: [][]repository.Candidate{
		{{Source: "A", Link: "L", Timestamp: time.Now()}},
	}}
	c.Run(context.Background(), []repository.Worker{workerA2}, 14*24*time.Hour, 5*time.Second, DefaultLimits())
	require.Len(t, store.posts, 2)
}

func TestCoordinator_MonotoneIDs(t *testing.T) {
	store := newMemStore()
	worker := &fakeWorker{tag: "A", pages: [][]repository.Candidate{
		{
			{Source: "A", Link: "L1", Timestamp: time.Now()},
			{Source: "A", Link: "L2", Timestamp: time.Now()},
			{Source: "A", Link: "L3", Timestamp: time.Now()},
		},
	}}

	c := New(store, noopResolver{}, noopMetrics{}, testLogger(t))
	c.Run(context.Background(), []repository.Worker{worker}, 14*24*time.Hour, 5*time.Second, DefaultLimits())

	require.Len(t, store.posts, 3)
	for i := 1; i < len(store.posts); i++ {
		require.Greater(t, store.posts[i].ID, store.posts[i-1].ID)
	}
}

type scrollAwareWorker struct {
	fakeWorker
	scrollLimit int
}

func (w *scrollAwareWorker) SetScrollLimit(n int) { w.scrollLimit = n }

func TestCoordinator_HandsScrollLimitToCapableWorkers(t *testing.T) {
	store := newMemStore()
	worker := &scrollAwareWorker{fakeWorker: fakeWorker{tag: "A"}}

	limits := DefaultLimits()
	limits.ScrollsPerPage = 7

	c := New(store, noopResolver{}, noopMetrics{}, testLogger(t))
	c.Run(context.Background(), []repository.Worker{worker}, 14*24*time.Hour, 5*time.Second, limits)

	require.Equal(t, 7, worker.scrollLimit)
}

func TestCoordinator_AgeCutoffTerminatesSource(t *testing.T) {
	store := newMemStore()
	worker := &fakeWorker{tag: "A", pages: [][]repository.Candidate{
		{{Source: "A", Link: "L1", Timestamp: time.Now().Add(-48 * time.Hour)}},
		// Never reached: every post on the first page is older than the cutoff.
		{{Source: "A", Link: "L2", Timestamp: time.Now()}},
	}}

	c := New(store, noopResolver{}, noopMetrics{}, testLogger(t))
	c.Run(context.Background(), []repository.Worker{worker}, 24*time.Hour, 5*time.Second, DefaultLimits())

	// The stale post itself is still stored; only further paging stops.
	require.Len(t, store.posts, 1)
	require.Equal(t, "L1", store.posts[0].Link)
}

type commentWorker struct {
	fakeWorker
}

func (w *commentWorker) FetchComments(ctx context.Context, c repository.Candidate, limit int) ([]string, error) {
	return []string{"c1", "c2"}, nil
}

func TestCoordinator_CommentsAttachedBeforeAppend(t *testing.T) {
	store := newMemStore()
	worker := &commentWorker{fakeWorker: fakeWorker{tag: "A", pages: [][]repository.Candidate{
		{{Source: "A", Link: "L1", Timestamp: time.Now(), HasComments: true, CommentCount: 2}},
	}}}

	c := New(store, noopResolver{}, noopMetrics{}, testLogger(t))
	c.Run(context.Background(), []repository.Worker{worker}, 14*24*time.Hour, 5*time.Second, DefaultLimits())

	require.Len(t, store.posts, 1)
	require.Equal(t, []string{"c1", "c2"}, store.posts[0].Comments)
}
