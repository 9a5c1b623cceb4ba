package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"tokenpulse/internal/di"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/sentiment"
	"tokenpulse/pkg/config"
	xhttp "tokenpulse/pkg/http"
	applogger "tokenpulse/pkg/logger"
	"tokenpulse/pkg/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	metrics := di.ProvideMetrics()
	bus := di.ProvideEventBus(metrics)

	logger, err := di.ProvideLogger(cfg, bus)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}

	stores, err := di.ProvideStores(cfg)
	if err != nil {
		logger.Error("store init failed", applogger.Error(err))
		os.Exit(1)
	}

	httpClient := xhttp.NewClient()

	cacheSvc := di.ProvideCache(cfg)
	redisClient := di.ProvideRedisClient(cfg)
	missBacklog := di.ProvideMissBacklog(redisClient, logger)

	chClient, chSink, err := di.ProvideClickHouseSink(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("clickhouse sink init failed", applogger.Error(err))
		os.Exit(1)
	}
	if chSink != nil {
		sinkEvents, _ := bus.Subscribe()
		go chSink.Watch(context.Background(), sinkEvents, stores.Coin)
	}

	providers := di.ProvideMarketProviders(cfg, httpClient)
	enricher := di.ProvideEnricher(cfg, providers, metrics, logger, cacheSvc, missBacklog)
	missConsumer := di.ProvideMissConsumer(redisClient, logger, enricher, stores.Coin)

	resolver := di.ProvideResolver(cfg, httpClient, stores.Scrape, metrics, logger)
	coordinator := di.ProvideCoordinator(stores.Scrape, resolver, metrics, logger, bus)

	aggregator := sentiment.New(placeholderScoreFunc)

	// Browser-automation source workers (Reddit/Twitter listing and comment
	// fetch) live outside this module's scope; the coordinator runs whatever
	// it's given, which for now is nothing.
	var sources []repository.Worker

	sup := di.ProvideSupervisor(cfg, coordinator, aggregator, enricher, stores, bus, metrics, logger, sources)
	handlers := di.ProvideHandlers(logger, sup, stores, bus)

	app := server.New(cfg, logger, sup, chClient, missConsumer, handlers...)
	if err := app.Run(); err != nil {
		logger.Error("app exited with error", applogger.Error(err))
		os.Exit(1)
	}
}

// placeholderScoreFunc stands in for the NLP sentiment scorer: it scores
// off a short loaded-word list instead of a real polarity model. Every
// TokenRecord it feeds is directionally illustrative only until a real
// scorer replaces it.
func placeholderScoreFunc(text string) float64 {
	lower := strings.ToLower(text)
	positive := []string{"moon", "bullish", "pump", "gem", "up"}
	negative := []string{"rug", "dump", "bearish", "scam", "down"}

	var score float64
	for _, w := range positive {
		if strings.Contains(lower, w) {
			score += 0.3
		}
	}
	for _, w := range negative {
		if strings.Contains(lower, w) {
			score -= 0.3
		}
	}
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}
