// Package scrape implements the ScrapeCoordinator: launching bounded
// parallel source workers, deduplicating against a shared SeenSet, and
// persisting posts to the ScrapeStore.
package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/pkg/logger"
	"tokenpulse/pkg/retry"
)

// Limits bounds a scrape pass.
type Limits struct {
	MaxConcurrentSources int
	MaxPagesPerSource    int
	CommentsPerPost      int
	ScrollsPerPage       int
}

// DefaultLimits keeps three sources in flight at once and caps each at
// ten listing pages.
func DefaultLimits() Limits {
	return Limits{MaxConcurrentSources: 3, MaxPagesPerSource: 10, CommentsPerPost: 20, ScrollsPerPage: 5}
}

// Stats summarizes one Run call.
type Stats struct {
	PostsAdded   int
	SourcesRun   int
	SourceErrors int
}

// Resolver is the subset of internal/resolve.Resolver the Coordinator
// needs: submitting a post for asynchronous symbol identification.
type Resolver interface {
	Resolve(ctx context.Context, post models.Post) (string, error)
}

// ScrollBounded is implemented by workers whose listing pages load more
// content by scrolling. The coordinator hands them the configured per-page
// scroll cap before their first fetch.
type ScrollBounded interface {
	SetScrollLimit(n int)
}

// EventSink receives the coordinator's per-source progress lines as
// threadUpdate events. *eventbus.Bus satisfies it.
type EventSink interface {
	Publish(event models.Event)
}

// Option configures a Coordinator beyond its required collaborators.
type Option func(*Coordinator)

// WithEvents streams per-source progress through sink so connected clients
// can follow each worker live.
func WithEvents(sink EventSink) Option {
	return func(c *Coordinator) { c.events = sink }
}

// Coordinator runs one or more Worker sources in parallel under a shared
// ScrapeStore, SeenSet, and post-id counter.
type Coordinator struct {
	store    repository.ScrapeStore
	resolver Resolver
	metrics  repository.Metrics
	log      *logger.Logger
	events   EventSink // optional, nil-safe

	statsMu sync.Mutex
	stats   Stats
}

func New(store repository.ScrapeStore, resolver Resolver, metrics repository.Metrics, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, resolver: resolver, metrics: metrics, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run launches one task per source, bounded by limits.MaxConcurrentSources,
// and blocks until every source has terminated (age cutoff, page limit,
// wall budget, or ctx cancellation) or the wall budget elapses.
func (c *Coordinator) Run(ctx context.Context, sources []repository.Worker, cutoffAge, wallBudget time.Duration, limits Limits) Stats {
	c.stats = Stats{}

	runCtx, cancel := context.WithTimeout(ctx, wallBudget)
	defer cancel()

	sem := make(chan struct{}, max(1, limits.MaxConcurrentSources))
	var wg sync.WaitGroup

	for _, src := range sources {
		src := src
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.runSource(runCtx, src, cutoffAge, limits)
		}()
	}
	wg.Wait()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Coordinator) runSource(ctx context.Context, worker repository.Worker, cutoffAge time.Duration, limits Limits) {
	tag := worker.SourceTag()
	c.addSourceRun()

	if sb, ok := worker.(ScrollBounded); ok {
		sb.SetScrollLimit(limits.ScrollsPerPage)
	}
	c.publishThread(tag, "source started")

	for page := 0; page < limits.MaxPagesPerSource; page++ {
		if ctx.Err() != nil {
			c.publishThread(tag, "source cancelled")
			return
		}

		candidates, ok, err := c.fetchListingWithRetry(ctx, worker, page)
		if err != nil {
			c.log.Warn("scrape: source terminated after fetch failure", logger.String("source", tag), logger.Error(err))
			c.metrics.RecordScrapeError(tag, "fetch")
			c.addSourceError()
			c.publishThread(tag, "source failed: "+err.Error())
			return
		}
		c.publishThread(tag, fmt.Sprintf("page %d: %d candidates", page, len(candidates)))

		allStale := true
		for _, cand := range candidates {
			if time.Since(cand.Timestamp) <= cutoffAge {
				allStale = false
			}
			c.handleCandidate(ctx, worker, tag, cand, limits)
		}

		if !ok || allStale && len(candidates) > 0 {
			c.publishThread(tag, "source finished")
			return
		}
		if ctx.Err() != nil {
			c.publishThread(tag, "source cancelled")
			return
		}
	}
	c.publishThread(tag, "source finished")
}

func (c *Coordinator) publishThread(tag, line string) {
	if c.events == nil {
		return
	}
	c.events.Publish(models.NewThreadUpdate(tag, line))
}

func (c *Coordinator) fetchListingWithRetry(ctx context.Context, worker repository.Worker, page int) ([]repository.Candidate, bool, error) {
	var candidates []repository.Candidate
	var ok bool
	err := retry.Do(ctx, retry.Default(), func(ctx context.Context, attempt int) error {
		var err error
		candidates, ok, err = worker.FetchListing(ctx, page)
		return err
	})
	return candidates, ok, err
}

func (c *Coordinator) handleCandidate(ctx context.Context, worker repository.Worker, tag string, cand repository.Candidate, limits Limits) {
	key := models.PostKey{Source: cand.Source, Link: cand.Link}
	if c.store.Seen(key) {
		return
	}

	var comments []string
	if cand.HasComments {
		fetched, err := worker.FetchComments(ctx, cand, limits.CommentsPerPost)
		if err != nil {
			c.log.Warn("scrape: comment fetch failed, continuing without comments",
				logger.String("source", tag), logger.Error(err))
		} else {
			comments = fetched
		}
	}

	post := models.Post{
		ID:           c.store.NextID(),
		Source:       cand.Source,
		Platform:     cand.Platform,
		Title:        cand.Title,
		Content:      cand.Content,
		Author:       cand.Author,
		Timestamp:    cand.Timestamp,
		PostAge:      cand.PostAge,
		Upvotes:      cand.Upvotes,
		CommentCount: cand.CommentCount,
		Comments:     comments,
		Link:         cand.Link,
	}

	err := retry.Do(ctx, retry.Default(), func(ctx context.Context, attempt int) error {
		_, err := c.store.Append(ctx, post)
		return err
	})
	if err != nil {
		c.log.Error("scrape: dropping post after repeated append failures",
			logger.String("source", tag), logger.Int64("postId", post.ID), logger.Error(err))
		c.metrics.RecordScrapeError(tag, "append")
		return
	}

	c.metrics.RecordScrapePost(tag)
	c.addPostsAdded()

	go func() {
		resolveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.resolver.Resolve(resolveCtx, post); err != nil {
			c.log.Warn("scrape: async resolve failed", logger.Int64("postId", post.ID), logger.Error(err))
		}
	}()
}

func (c *Coordinator) addPostsAdded() {
	c.statsMu.Lock()
	c.stats.PostsAdded++
	c.statsMu.Unlock()
}

func (c *Coordinator) addSourceRun() {
	c.statsMu.Lock()
	c.stats.SourcesRun++
	c.statsMu.Unlock()
}

func (c *Coordinator) addSourceError() {
	c.statsMu.Lock()
	c.stats.SourceErrors++
	c.statsMu.Unlock()
}
