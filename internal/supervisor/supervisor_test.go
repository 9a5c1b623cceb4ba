package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/eventbus"
	"tokenpulse/internal/market"
	"tokenpulse/internal/scrape"
	"tokenpulse/internal/sentiment"
	"tokenpulse/pkg/logger"
)

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

// fakeScrapeStore is an in-memory repository.ScrapeStore with an
// in-package change listener hook, mirroring store.ScrapeStore's real one.
type fakeScrapeStore struct {
	mu       sync.Mutex
	posts    []models.Post
	seen     map[models.PostKey]struct{}
	id       int64
	onChange func()
}

func newFakeScrapeStore() *fakeScrapeStore {
	return &fakeScrapeStore{seen: make(map[models.PostKey]struct{})}
}

func (s *fakeScrapeStore) SetChangeListener(fn func()) { s.onChange = fn }

func (s *fakeScrapeStore) Seen(key models.PostKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

func (s *fakeScrapeStore) Append(ctx context.Context, p models.Post) (bool, error) {
	s.mu.Lock()
	if _, ok := s.seen[p.Key()]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.seen[p.Key()] = struct{}{}
	s.posts = append(s.posts, p)
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange()
	}
	return true, nil
}

func (s *fakeScrapeStore) UpdateSymbol(ctx context.Context, id int64, symbol string) error {
	s.mu.Lock()
	for i := range s.posts {
		if s.posts[i].ID == id {
			s.posts[i].TokenSymbol = symbol
		}
	}
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

func (s *fakeScrapeStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = nil
	s.seen = make(map[models.PostKey]struct{})
	return nil
}

func (s *fakeScrapeStore) All(ctx context.Context) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Post, len(s.posts))
	copy(out, s.posts)
	return out, nil
}

func (s *fakeScrapeStore) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id++
	return s.id
}

type countingSentimentStore struct {
	mu       sync.Mutex
	replaced int
	records  []models.TokenRecord
}

func (s *countingSentimentStore) Replace(ctx context.Context, records []models.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced++
	s.records = records
	return nil
}

func (s *countingSentimentStore) All(ctx context.Context) ([]models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

type countingCoinStore struct {
	mu       sync.Mutex
	replaced int
	coins    []models.CoinEntry
}

func (s *countingCoinStore) Replace(ctx context.Context, coins []models.CoinEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced++
	s.coins = coins
	return nil
}

func (s *countingCoinStore) All(ctx context.Context) ([]models.CoinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coins, nil
}

func (s *countingCoinStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.coins), nil
}

func fixedScore(v float64) repository.ScoreFunc {
	return func(string) float64 { return v }
}

func newTestSupervisor(t *testing.T, scrapeStore *fakeScrapeStore, sentimentStore *countingSentimentStore, coinStore *countingCoinStore, sources []repository.Worker, cfg Config) (*Supervisor, *eventbus.Bus) {
	t.Helper()
	log := testLogger(t)
	bus := eventbus.New(noopMetrics{})
	coordinator := scrape.New(scrapeStore, noopResolver{}, noopMetrics{}, log)
	aggregator := sentiment.New(fixedScore(0.5))
	enricher := market.New(nil, noopMetrics{}, log)

	sup := New(coordinator, aggregator, enricher, scrapeStore, sentimentStore, coinStore, bus, noopMetrics{}, log, sources, cfg)
	return sup, bus
}

// blockingWorker serves one page per Unblock() call, reporting no further
// pages once exhausted. It lets a test hold the scraper in Scraping for as
// long as needed before releasing it.
type blockingWorker struct {
	tag     string
	release chan struct{}
	served  bool
}

func (w *blockingWorker) SourceTag() string { return w.tag }

func (w *blockingWorker) FetchListing(ctx context.Context, page int) ([]repository.Candidate, bool, error) {
	select {
	case <-w.release:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if w.served {
		return nil, false, nil
	}
	w.served = true
	return []repository.Candidate{
		{Source: w.tag, Link: "L1", Timestamp: time.Now(), Title: "$ABC to the moon"},
	}, false, nil
}

func (w *blockingWorker) FetchComments(ctx context.Context, c repository.Candidate, limit int) ([]string, error) {
	return nil, nil
}

func TestSupervisor_AtMostOneDiscipline(t *testing.T) {
	scrapeStore := newFakeScrapeStore()
	worker := &blockingWorker{tag: "A", release: make(chan struct{})}

	sup, _ := newTestSupervisor(t, scrapeStore, &countingSentimentStore{}, &countingCoinStore{}, []repository.Worker{worker}, Config{
		DebounceWindow: 50 * time.Millisecond,
		CutoffAge:      24 * time.Hour,
		WallBudget:     5 * time.Second,
		ScrapeLimits:   scrape.DefaultLimits(),
	})

	require.NoError(t, sup.Start(context.Background()))
	require.Equal(t, ErrAlreadyRunning, sup.Start(context.Background()))

	close(worker.release)
	require.Eventually(t, func() bool {
		return sup.Status().Scraper == models.ScraperIdle
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_DebounceCoalescesBurst(t *testing.T) {
	scrapeStore := newFakeScrapeStore()
	coinStore := &countingCoinStore{}
	sup, _ := newTestSupervisor(t, scrapeStore, &countingSentimentStore{}, coinStore, nil, Config{
		DebounceWindow: 150 * time.Millisecond,
		CutoffAge:      24 * time.Hour,
		WallBudget:     5 * time.Second,
		ScrapeLimits:   scrape.DefaultLimits(),
	})
	scrapeStore.SetChangeListener(sup.onScrapeStoreChanged)

	// Seed one post directly (bypassing the scraper) so a triggered pass
	// has something to aggregate.
	scrapeStore.mu.Lock()
	scrapeStore.posts = []models.Post{{ID: 1, Source: "A", Link: "L1", TokenSymbol: "ABC"}}
	scrapeStore.mu.Unlock()

	for i := 0; i < 5; i++ {
		sup.onScrapeStoreChanged()
		time.Sleep(60 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		coinStore.mu.Lock()
		defer coinStore.mu.Unlock()
		return coinStore.replaced == 1
	}, 2*time.Second, 20*time.Millisecond)

	// No further pass fires once quiescent.
	time.Sleep(300 * time.Millisecond)
	coinStore.mu.Lock()
	defer coinStore.mu.Unlock()
	require.Equal(t, 1, coinStore.replaced)
}

func TestSupervisor_StopMidScrapeProceedsToProcessing(t *testing.T) {
	scrapeStore := newFakeScrapeStore()
	coinStore := &countingCoinStore{}
	worker := &blockingWorker{tag: "A", release: make(chan struct{})}

	sup, bus := newTestSupervisor(t, scrapeStore, &countingSentimentStore{}, coinStore, []repository.Worker{worker}, Config{
		DebounceWindow: 50 * time.Millisecond,
		CutoffAge:      24 * time.Hour,
		WallBudget:     5 * time.Second,
		ScrapeLimits:   scrape.DefaultLimits(),
	})

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	require.NoError(t, sup.Start(context.Background()))

	// Seed a post directly, as if the scraper had already persisted it
	// before the stop arrived.
	scrapeStore.mu.Lock()
	scrapeStore.posts = []models.Post{{ID: 1, Source: "A", Link: "L1", TokenSymbol: "ABC"}}
	scrapeStore.mu.Unlock()

	require.NoError(t, sup.Stop())
	// Unblock the worker so it observes the cancellation and exits.
	close(worker.release)

	var sawStopped, sawCoinsUpdated bool
	deadline := time.After(2 * time.Second)
	for !sawCoinsUpdated {
		select {
		case e := <-events:
			if e.Type == models.EventScrapeStopped {
				sawStopped = true
			}
			if e.Type == models.EventCoinsUpdated {
				sawCoinsUpdated = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for scrapeStopped/coinsUpdated")
		}
	}

	require.True(t, sawStopped)
	require.True(t, sawCoinsUpdated)
	require.Equal(t, models.Idle(), sup.Status())
}
