package resolve

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/ratelimit"
	"tokenpulse/pkg/logger"
)

type fakeOracle struct {
	calls  atomic.Int64
	symbol string
	err    error
}

func (f *fakeOracle) Identify(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	return f.symbol, f.err
}

type fakeScrapeStore struct {
	mu      sync.Mutex
	updates map[int64]string
}

func newFakeScrapeStore() *fakeScrapeStore {
	return &fakeScrapeStore{updates: make(map[int64]string)}
}

func (f *fakeScrapeStore) Seen(models.PostKey) bool                 { return false }
func (f *fakeScrapeStore) Append(context.Context, models.Post) (bool, error) { return true, nil }
func (f *fakeScrapeStore) UpdateSymbol(ctx context.Context, id int64, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = symbol
	return nil
}
func (f *fakeScrapeStore) Reset(context.Context) error                 { return nil }
func (f *fakeScrapeStore) All(context.Context) ([]models.Post, error)  { return nil, nil }
func (f *fakeScrapeStore) NextID() int64                               { return 0 }

type noopMetrics struct{}

func (noopMetrics) RecordScrapePost(string)                {}
func (noopMetrics) RecordScrapeError(string, string)       {}
func (noopMetrics) RecordResolverQueueDepth(int)           {}
func (noopMetrics) RecordResolverLatency(string, float64)  {}
func (noopMetrics) RecordProviderLatency(string, float64)  {}
func (noopMetrics) RecordProviderCooldown(string)          {}
func (noopMetrics) RecordPipelineStageDuration(string, float64) {}
func (noopMetrics) RecordEventDropped(string)              {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func TestResolver_FastPathSkipsOracle(t *testing.T) {
	oracle := &fakeOracle{}
	store := newFakeScrapeStore()
	r := New(oracle, store, noopMetrics{}, testLogger(t), 5)

	symbol, err := r.Resolve(context.Background(), models.Post{ID: 1, Title: "$PEP mooning"})
	require.NoError(t, err)
	require.Equal(t, "PEP", symbol)
	require.EqualValues(t, 0, oracle.calls.Load())
	require.Equal(t, "PEP", store.updates[1])
}

func TestResolver_AmbiguousFastPathFallsBackToOracle(t *testing.T) {
	oracle := &fakeOracle{symbol: "BONK"}
	store := newFakeScrapeStore()
	r := New(oracle, store, noopMetrics{}, testLogger(t), 5)

	symbol, err := r.Resolve(context.Background(), models.Post{ID: 1, Title: "$AAA and $BBB both mentioned"})
	require.NoError(t, err)
	require.Equal(t, "BONK", symbol)
	require.EqualValues(t, 1, oracle.calls.Load())
}

func TestResolver_MemoizesByPostID(t *testing.T) {
	oracle := &fakeOracle{symbol: "BONK"}
	store := newFakeScrapeStore()
	r := New(oracle, store, noopMetrics{}, testLogger(t), 5)

	post := models.Post{ID: 7, Title: "no ticker here"}
	_, err := r.Resolve(context.Background(), post)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), post)
	require.NoError(t, err)

	require.EqualValues(t, 1, oracle.calls.Load())
}

func TestResolver_OracleFailureLeavesPostUnresolved(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("boom")}
	store := newFakeScrapeStore()
	r := New(oracle, store, noopMetrics{}, testLogger(t), 5)
	r.retryPolicy.MaxAttempts = 1

	symbol, err := r.Resolve(context.Background(), models.Post{ID: 9, Title: "no ticker"})
	require.NoError(t, err)
	require.Empty(t, symbol)
}

func TestResolver_GlobalSemaphoreSerializesOracleCalls(t *testing.T) {
	oracle := &fakeOracle{symbol: "BONK"}
	store := newFakeScrapeStore()
	r := New(oracle, store, noopMetrics{}, testLogger(t), 5)

	var wg sync.WaitGroup
	for i := int64(1); i <= 5; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), models.Post{ID: id, Title: "no ticker"})
		}(i)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolve calls did not complete in time")
	}
	require.EqualValues(t, 5, oracle.calls.Load())
}

func TestResolver_RateLimiterPacesOracleCalls(t *testing.T) {
	oracle := &fakeOracle{symbol: "BONK"}
	store := newFakeScrapeStore()
	// 5 tokens/sec: the bucket's single initial token serves the first
	// call, the second has to wait ~200ms for a refill.
	r := New(oracle, store, noopMetrics{}, testLogger(t), 5,
		WithRateLimiter(ratelimit.New(), 5))

	start := time.Now()
	_, err := r.Resolve(context.Background(), models.Post{ID: 1, Title: "no ticker"})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), models.Post{ID: 2, Title: "no ticker"})
	require.NoError(t, err)

	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	require.EqualValues(t, 2, oracle.calls.Load())
}
