// Package supervisor implements the PipelineSupervisor: the Idle/Scraping/
// Processing state machine that drives the scraper, aggregator, and
// enricher stages as in-process tasks and coalesces ScrapeStore changes
// into debounced pipeline re-runs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/eventbus"
	"tokenpulse/internal/market"
	"tokenpulse/internal/scrape"
	"tokenpulse/internal/sentiment"
	"tokenpulse/pkg/logger"
)

// ErrAlreadyRunning is returned by Start when a scrape or pipeline pass is
// already in flight, enforcing at-most-one discipline.
var ErrAlreadyRunning = errors.New("supervisor: a pipeline stage is already running")

// ErrNotRunning is returned by Stop when the scraper isn't currently
// running. Stop during Processing is defined as a no-op, not an error.
var ErrNotRunning = errors.New("supervisor: scraper is not running")

// DefaultDebounceWindow is the quiescence interval for coalescing a burst
// of ScrapeStore changes into a single pipeline run.
const DefaultDebounceWindow = 3 * time.Second

// Config bounds one scrape pass and the debounce behavior between passes.
type Config struct {
	DebounceWindow time.Duration
	CutoffAge      time.Duration
	WallBudget     time.Duration
	ScrapeLimits   scrape.Limits
}

// DefaultConfig bounds a pass at 14 days of posts and 3 minutes of wall
// clock per source.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: DefaultDebounceWindow,
		CutoffAge:      14 * 24 * time.Hour,
		WallBudget:     3 * time.Minute,
		ScrapeLimits:   scrape.DefaultLimits(),
	}
}

// Supervisor owns the Idle/Scraping/Processing state machine. Its zero
// value is not usable; construct with New.
type Supervisor struct {
	mu    sync.Mutex
	state models.PipelineState

	scrapeCancel  context.CancelFunc
	debounceTimer *time.Timer

	cfg Config

	coordinator *scrape.Coordinator
	aggregator  *sentiment.Aggregator
	enricher    *market.Enricher

	scrapeStore    repository.ScrapeStore
	sentimentStore repository.SentimentStore
	coinStore      repository.CoinStore

	bus     *eventbus.Bus
	metrics repository.Metrics
	log     *logger.Logger

	sources []repository.Worker
}

func New(
	coordinator *scrape.Coordinator,
	aggregator *sentiment.Aggregator,
	enricher *market.Enricher,
	scrapeStore repository.ScrapeStore,
	sentimentStore repository.SentimentStore,
	coinStore repository.CoinStore,
	bus *eventbus.Bus,
	metrics repository.Metrics,
	log *logger.Logger,
	sources []repository.Worker,
	cfg Config,
) *Supervisor {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	s := &Supervisor{
		state:          models.Idle(),
		cfg:            cfg,
		coordinator:    coordinator,
		aggregator:     aggregator,
		enricher:       enricher,
		scrapeStore:    scrapeStore,
		sentimentStore: sentimentStore,
		coinStore:      coinStore,
		bus:            bus,
		metrics:        metrics,
		log:            log,
		sources:        sources,
	}
	return s
}

// ChangeNotifier is the minimal surface WatchScrapeStore needs;
// *store.ScrapeStore and test doubles both satisfy it.
type ChangeNotifier interface {
	SetChangeListener(fn func())
}

// WatchScrapeStore wires the supervisor's debounced re-run trigger to the
// store's change notifications. Only the ScrapeStore is watched; the
// downstream SentimentStore and CoinStore are never part of the watched
// set, which is what breaks the cyclic file-change reference a supervisor
// that wrote and watched the same document would otherwise have.
func (s *Supervisor) WatchScrapeStore(store ChangeNotifier) {
	store.SetChangeListener(s.onScrapeStoreChanged)
}

// Status returns a snapshot of the current state machine state.
func (s *Supervisor) Status() models.PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdateLimits overrides the scrape limits applied to the next Start call.
// A zero field in limits leaves the corresponding existing value untouched,
// so a caller can override just one of MaxPagesPerSource/CommentsPerPost
// without having to restate the rest.
func (s *Supervisor) UpdateLimits(limits scrape.Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limits.MaxConcurrentSources > 0 {
		s.cfg.ScrapeLimits.MaxConcurrentSources = limits.MaxConcurrentSources
	}
	if limits.MaxPagesPerSource > 0 {
		s.cfg.ScrapeLimits.MaxPagesPerSource = limits.MaxPagesPerSource
	}
	if limits.CommentsPerPost > 0 {
		s.cfg.ScrapeLimits.CommentsPerPost = limits.CommentsPerPost
	}
	if limits.ScrollsPerPage > 0 {
		s.cfg.ScrapeLimits.ScrollsPerPage = limits.ScrollsPerPage
	}
}

// Start transitions Idle->Scraping and launches the scraper stage in the
// background. It rejects a second start while Scraping or Processing is
// already under way.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Scraper == models.ScraperRunning || s.state.Pipeline == models.PipelineInFlight {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	// The stage outlives ctx (often an HTTP request); only Stop cancels it.
	scrapeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.scrapeCancel = cancel
	s.state.Scraper = models.ScraperRunning
	s.mu.Unlock()

	// Starting a fresh run overwrites the ScrapeStore with an empty array
	// before the first worker launches.
	if err := s.scrapeStore.Reset(ctx); err != nil {
		s.mu.Lock()
		s.state.Scraper = models.ScraperIdle
		s.mu.Unlock()
		cancel()
		return err
	}

	go s.runScrape(scrapeCtx)
	return nil
}

// Stop sends the scraper a cancellation signal, standing in for SIGTERM.
// The Scraping->Processing transition proceeds over whatever posts are
// already persisted. A stop while Processing is already running is a
// no-op per spec: stages run to completion once started.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state.Scraper != models.ScraperRunning {
		inFlight := s.state.Pipeline == models.PipelineInFlight
		s.mu.Unlock()
		if inFlight {
			return nil
		}
		return ErrNotRunning
	}
	cancel := s.scrapeCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *Supervisor) runScrape(ctx context.Context) {
	start := time.Now()
	stats := s.coordinator.Run(ctx, s.sources, s.cfg.CutoffAge, s.cfg.WallBudget, s.cfg.ScrapeLimits)
	s.metrics.RecordPipelineStageDuration("scrape", time.Since(start).Seconds())

	exitCode := 0
	if ctx.Err() != nil {
		exitCode = 1
	}
	s.log.Info("scrape stage complete",
		logger.String("stage", "scrape"),
		logger.Int("postsAdded", stats.PostsAdded),
		logger.Int("sourcesRun", stats.SourcesRun),
		logger.Int("sourceErrors", stats.SourceErrors),
		logger.Int("exitCode", exitCode))

	s.mu.Lock()
	s.state.Scraper = models.ScraperIdle
	s.mu.Unlock()

	s.bus.Publish(models.NewScrapeStopped(exitCode))

	// The scraper's own exit drives Processing directly: this is the
	// Scraping->Processing transition, not a debounced re-run.
	s.triggerProcessing(context.Background())
}

// onScrapeStoreChanged is the ScrapeStore's change listener. Every change
// streams the current store contents to subscribers; a change observed
// while the scraper we launched is still running is already covered by
// runScrape's own post-exit transition and doesn't re-trigger here; a
// change observed any other time either queues a pending rerun (pipeline
// already in flight) or (re)starts the debounce timer.
func (s *Supervisor) onScrapeStoreChanged() {
	go s.publishScrapeUpdate()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Scraper == models.ScraperRunning {
		return
	}
	if s.state.Pipeline == models.PipelineInFlight {
		s.state.PendingRerun = true
		return
	}

	s.state.DebounceActive = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.cfg.DebounceWindow, func() {
		s.mu.Lock()
		s.state.DebounceActive = false
		s.mu.Unlock()
		s.triggerProcessing(context.Background())
	})
}

// publishScrapeUpdate streams the store's current contents as a
// scrapeUpdate event, off the caller's goroutine so a change listener
// never blocks on a store read.
func (s *Supervisor) publishScrapeUpdate() {
	posts, err := s.scrapeStore.All(context.Background())
	if err != nil {
		s.log.Warn("scrape update read failed", logger.Error(err))
		return
	}
	s.bus.Publish(models.NewScrapeUpdate(posts))
}

// triggerProcessing enforces at-most-one: if Processing is already in
// flight it only flags a pending rerun, otherwise it launches one.
func (s *Supervisor) triggerProcessing(ctx context.Context) {
	s.mu.Lock()
	if s.state.Pipeline == models.PipelineInFlight {
		s.state.PendingRerun = true
		s.mu.Unlock()
		return
	}
	s.state.Pipeline = models.PipelineInFlight
	s.mu.Unlock()

	go s.runProcessing(ctx)
}

func (s *Supervisor) runProcessing(ctx context.Context) {
	for {
		coinCount, ok := s.runOnePass(ctx)

		s.mu.Lock()
		rerun := s.state.PendingRerun
		s.state.PendingRerun = false
		if !rerun {
			s.state.Pipeline = models.PipelineIdle
		}
		s.mu.Unlock()

		// coinsUpdated follows the Processing->Idle transition, so a
		// subscriber that reacts to it observes the supervisor ready for
		// the next start.
		if ok {
			s.bus.Publish(models.NewCoinsUpdated(coinCount))
		}
		if !rerun {
			return
		}
	}
}

func (s *Supervisor) runOnePass(ctx context.Context) (int, bool) {
	posts, err := s.scrapeStore.All(ctx)
	if err != nil {
		s.fail(ctx, "aggregate", err)
		return 0, false
	}
	if len(posts) == 0 {
		// An empty or deleted scrape file preserves existing coin data
		// rather than flickering it away.
		s.log.Info("scrape store empty, skipping pipeline pass")
		return 0, false
	}

	start := time.Now()
	records := s.aggregator.Run(ctx, posts)
	s.metrics.RecordPipelineStageDuration("aggregate", time.Since(start).Seconds())

	if err := s.sentimentStore.Replace(ctx, records); err != nil {
		s.fail(ctx, "aggregate", err)
		return 0, false
	}
	s.log.StageLog("aggregate", fmt.Sprintf("aggregated %d posts into %d token records", len(posts), len(records)))

	start = time.Now()
	coins := s.enricher.Run(ctx, records)
	s.metrics.RecordPipelineStageDuration("enrich", time.Since(start).Seconds())

	if err := s.coinStore.Replace(ctx, coins); err != nil {
		s.fail(ctx, "enrich", err)
		return 0, false
	}
	s.log.StageLog("enrich", fmt.Sprintf("enriched %d coins", len(coins)))

	return len(coins), true
}

func (s *Supervisor) fail(ctx context.Context, stage string, err error) {
	s.log.Error("pipeline stage failed", logger.String("stage", stage), logger.Error(err))
	s.bus.Publish(models.NewErrorEvent(stage, err.Error()))

	s.mu.Lock()
	s.state = models.Idle()
	s.mu.Unlock()
}
