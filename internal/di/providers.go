// Package di wires the concrete components together into the object graph
// cmd/app/main.go runs. Wiring is manual: the object graph is small enough,
// and fixed enough between environments, that a generated wire_gen.go would
// only add a build step without buying anything a few constructor calls
// don't already give us.
package di

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/eventbus"
	"tokenpulse/internal/handler/api"
	"tokenpulse/internal/market"
	"tokenpulse/internal/ratelimit"
	"tokenpulse/internal/resolve"
	"tokenpulse/internal/scrape"
	"tokenpulse/internal/sentiment"
	"tokenpulse/internal/store"
	"tokenpulse/internal/supervisor"
	"tokenpulse/internal/transport/ws"
	"tokenpulse/pkg/cache"
	pkgch "tokenpulse/pkg/clickhouse"
	"tokenpulse/pkg/config"
	xhttp "tokenpulse/pkg/http"
	applogger "tokenpulse/pkg/logger"
	"tokenpulse/pkg/metrics"
	"tokenpulse/pkg/queue"
)

// ProvideLogger builds the application logger from config, wiring its
// stream collector to bus so every logged line also reaches connected
// duplex-channel clients as scrapeLog events.
func ProvideLogger(cfg *config.Config, bus *eventbus.Bus) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l.AddCollector(&applogger.StreamConfig{
		Publisher:      eventbus.NewLogPublisher(bus),
		PublishTimeout: 5 * time.Second,
	})
	return l, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideEventBus creates the EventBus every live component publishes to and
// the duplex channel subscribes from.
func ProvideEventBus(m repository.Metrics) *eventbus.Bus {
	return eventbus.New(m)
}

// Stores bundles the three JSON document stores.
type Stores struct {
	Scrape    *store.ScrapeStore
	Sentiment *store.SentimentStore
	Coin      *store.CoinStore
}

// ProvideStores opens (or creates) the three JSON documents under
// cfg.Store.Dir.
func ProvideStores(cfg *config.Config) (*Stores, error) {
	scrapeStore, err := store.NewScrapeStore(cfg.Store.Dir + "/" + fileOrDefault(cfg.Store.ScrapeFile, "scrape.json"))
	if err != nil {
		return nil, fmt.Errorf("scrape store: %w", err)
	}
	sentimentStore, err := store.NewSentimentStore(cfg.Store.Dir + "/" + fileOrDefault(cfg.Store.SentimentFile, "sentiment.json"))
	if err != nil {
		return nil, fmt.Errorf("sentiment store: %w", err)
	}
	coinStore, err := store.NewCoinStore(cfg.Store.Dir + "/" + fileOrDefault(cfg.Store.CoinFile, "coins.json"))
	if err != nil {
		return nil, fmt.Errorf("coin store: %w", err)
	}
	return &Stores{Scrape: scrapeStore, Sentiment: sentimentStore, Coin: coinStore}, nil
}

func fileOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ProvideCache builds the two-level market response cache. Nil (no caching)
// if Redis is disabled or the client can't be reached.
func ProvideCache(cfg *config.Config) cache.Service {
	if !cfg.Redis.Enabled {
		return nil
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("tokenpulse"),
	)
	if err != nil {
		return nil
	}
	return cache.NewLayeredCache(redisCache)
}

// ProvideRedisClient builds the Redis client shared by the miss backlog's
// publisher and consumer halves. Nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideMissBacklog builds the Redis-backed best-effort backlog the
// MarketEnricher pushes provider misses onto for later reconciliation. Nil
// (no backlog) if Redis is disabled.
func ProvideMissBacklog(client *redis.Client, log *applogger.Logger) *queue.RedisQueue {
	if client == nil {
		return nil
	}
	return queue.NewRedisPublisher(log, client)
}

// ProvideMissConsumer builds and starts the backlog's consumer half: one
// worker draining market-miss entries through market.ReprocessJob, with the
// queue's retry schedule and dead-letter list handling symbols that stay
// unavailable. Nil if Redis is disabled or the consumer can't start.
func ProvideMissConsumer(client *redis.Client, log *applogger.Logger, enricher *market.Enricher, coins repository.CoinStore) *queue.RedisQueue {
	if client == nil {
		return nil
	}
	consumer := queue.NewRedisConsumer(log, &queue.QueueConfig{
		Workers:    1,
		RetryLimit: 3,
		RetryDelay: time.Minute,
	}, client, []queue.Job{market.NewReprocessJob(enricher, coins, log)})
	if err := consumer.Start(); err != nil {
		log.Warn("miss backlog consumer start failed", applogger.Error(err))
		return nil
	}
	return consumer
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	if port == 0 {
		port = 6379
	}
	return host, port
}

// ProvideClickHouseSink builds the optional historical-analytics mirror.
// Both return values are nil if ClickHouse is disabled.
func ProvideClickHouseSink(ctx context.Context, cfg *config.Config, log *applogger.Logger) (*pkgch.Client, *store.ClickHouseSink, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	sink, err := store.NewClickHouseSink(ctx, client, log)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse sink: %w", err)
	}
	return client, sink, nil
}

// ProvideMarketProviders builds the enricher's ordered provider chain.
// Jupiter must precede Moralis in this list: Moralis is address-keyed and
// resolves through Jupiter's cached symbol->address map.
func ProvideMarketProviders(cfg *config.Config, httpClient *xhttp.Client) []repository.MarketProvider {
	jupiter := market.NewJupiterListProvider(httpClient, cfg.Market.Jupiter.BaseURL, cfg.Market.Jupiter.APIKey)

	providers := []repository.MarketProvider{
		market.NewDexScreenerProvider(httpClient, cfg.Market.DexScreener.BaseURL),
		jupiter,
	}
	if moralis := market.NewMoralisProvider(httpClient, cfg.Market.Moralis.BaseURL, cfg.Market.Moralis.APIKey, jupiter.ResolveAddress); moralis != nil {
		providers = append(providers, moralis)
	}
	return providers
}

// ProvideEnricher builds the MarketEnricher over its provider chain.
func ProvideEnricher(cfg *config.Config, providers []repository.MarketProvider, m repository.Metrics, log *applogger.Logger, cacheSvc cache.Service, backlog *queue.RedisQueue) *market.Enricher {
	var opts []market.Option
	if cfg.Market.Parallelism > 0 {
		opts = append(opts, market.WithParallelism(cfg.Market.Parallelism))
	}
	if cfg.Market.ProviderTimeout > 0 {
		opts = append(opts, market.WithProviderTimeout(cfg.Market.ProviderTimeout))
	}
	if cfg.Market.Cooldown > 0 {
		opts = append(opts, market.WithCooldown(cfg.Market.Cooldown))
	}
	if cacheSvc != nil {
		opts = append(opts, market.WithCache(cacheSvc))
	}
	if backlog != nil {
		opts = append(opts, market.WithMissBacklog(backlog))
	}
	return market.New(providers, m, log, opts...)
}

// ProvideResolver builds the TokenResolver over the HTTP oracle, falling
// back to a no-op oracle when no oracle credential is configured.
func ProvideResolver(cfg *config.Config, httpClient *xhttp.Client, scrapeStore repository.ScrapeStore, m repository.Metrics, log *applogger.Logger) *resolve.Resolver {
	var oracle repository.TokenOracle = resolve.NoopOracle{}
	if o := resolve.NewHTTPOracle(httpClient, cfg.Resolver.BaseURL, cfg.Resolver.APIKey, cfg.Resolver.Model); o != nil {
		oracle = o
	}
	commentsK := cfg.Resolver.CommentsPerPost
	if commentsK == 0 {
		commentsK = 3
	}
	opts := []resolve.Option{resolve.WithRateLimiter(ProvideRateLimiter(), 1)}
	if cfg.Resolver.Timeout > 0 {
		opts = append(opts, resolve.WithTimeout(cfg.Resolver.Timeout))
	}
	return resolve.New(oracle, scrapeStore, m, log, commentsK, opts...)
}

// ProvideCoordinator builds the ScrapeCoordinator over the resolver,
// streaming per-source progress to bus as threadUpdate events.
func ProvideCoordinator(scrapeStore repository.ScrapeStore, resolver *resolve.Resolver, m repository.Metrics, log *applogger.Logger, bus *eventbus.Bus) *scrape.Coordinator {
	return scrape.New(scrapeStore, resolver, m, log, scrape.WithEvents(bus))
}

// ProvideSupervisor builds the PipelineSupervisor and wires it to the
// ScrapeStore's change notifications.
func ProvideSupervisor(cfg *config.Config, coordinator *scrape.Coordinator, aggregator *sentiment.Aggregator, enricher *market.Enricher, stores *Stores, bus *eventbus.Bus, m repository.Metrics, log *applogger.Logger, sources []repository.Worker) *supervisor.Supervisor {
	supCfg := supervisor.DefaultConfig()
	if cfg.Scrape.MaxPostAge > 0 {
		supCfg.CutoffAge = cfg.Scrape.MaxPostAge
	}
	if cfg.Scrape.WallBudget > 0 {
		supCfg.WallBudget = cfg.Scrape.WallBudget
	}
	if cfg.Scrape.DebounceWindow > 0 {
		supCfg.DebounceWindow = cfg.Scrape.DebounceWindow
	}
	if cfg.Scrape.MaxPages > 0 {
		supCfg.ScrapeLimits.MaxPagesPerSource = cfg.Scrape.MaxPages
	}
	if cfg.Scrape.CommentLimit > 0 {
		supCfg.ScrapeLimits.CommentsPerPost = cfg.Scrape.CommentLimit
	}

	sup := supervisor.New(coordinator, aggregator, enricher, stores.Scrape, stores.Sentiment, stores.Coin, bus, m, log, sources, supCfg)
	sup.WatchScrapeStore(stores.Scrape)
	return sup
}

// ProvideRateLimiter builds the token-bucket limiter pacing the resolver's
// oracle calls beyond the Enricher's own cooldown tracking.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideHandlers builds the HTTP handlers registered against the server.
func ProvideHandlers(log *applogger.Logger, sup *supervisor.Supervisor, stores *Stores, bus *eventbus.Bus) []xhttp.Handler {
	control := api.NewControlHandler(log, sup, stores.Scrape, stores.Coin)
	hub := ws.NewHub(bus, stores.Scrape, log)
	return []xhttp.Handler{control, hub}
}
