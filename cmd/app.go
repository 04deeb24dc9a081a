package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"

	"github.com/selivandex/newsimpact/internal/adapters/ai"
	"github.com/selivandex/newsimpact/internal/adapters/alphavantage"
	"github.com/selivandex/newsimpact/internal/adapters/clickhouse"
	"github.com/selivandex/newsimpact/internal/adapters/config"
	"github.com/selivandex/newsimpact/internal/adapters/correlation"
	"github.com/selivandex/newsimpact/internal/adapters/database"
	embeddingsRepo "github.com/selivandex/newsimpact/internal/adapters/embeddings"
	"github.com/selivandex/newsimpact/internal/adapters/market"
	metricsWriter "github.com/selivandex/newsimpact/internal/adapters/metrics"
	"github.com/selivandex/newsimpact/internal/adapters/news"
	"github.com/selivandex/newsimpact/internal/adapters/price"
	"github.com/selivandex/newsimpact/internal/adapters/ratelimit"
	redisAdapter "github.com/selivandex/newsimpact/internal/adapters/redis"
	"github.com/selivandex/newsimpact/internal/health"
	"github.com/selivandex/newsimpact/internal/impact"
	"github.com/selivandex/newsimpact/internal/pipeline"
	"github.com/selivandex/newsimpact/internal/query"
	"github.com/selivandex/newsimpact/internal/search"
	"github.com/selivandex/newsimpact/internal/sentiment"
	"github.com/selivandex/newsimpact/pkg/embeddings"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/metrics"
	"github.com/selivandex/newsimpact/pkg/templates"
	prompttmpl "github.com/selivandex/newsimpact/templates"
)

// app holds every wired component; commands use only what they need
type app struct {
	cfg        *config.Config
	db         *database.DB
	ch         *database.DB
	redis      *redisAdapter.Client
	metrics    *metrics.BufferedMetrics
	articles   *news.Repository
	pipeline   *pipeline.Service
	correlator *impact.Correlator
	search     *search.Service
	query      *query.Service
	locks      redisAdapter.LockFactory
	av         *alphavantage.Client
	barStore   price.Store
}

// initConfig loads configuration and initializes logger
func initConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	logger.Info("database connection established (sqlx)",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	if err := a.initClickHouse(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.initRedis()
	a.initMetrics()

	renderer, err := templates.NewManagerFS(prompttmpl.FS)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	ensemble, lexicon, err := initEnsemble(cfg, renderer)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	generator := a.initEmbeddings()

	a.av = alphavantage.NewClient(cfg.News.AlphaVantageURL, cfg.News.AlphaVantageKey, cfg.News.FetchTimeout, ratelimit.PerMinute(cfg.News.RequestsPerMin))
	a.articles = news.NewRepository(db.DB())

	a.pipeline = pipeline.NewService(
		a.articles,
		a.initAggregator(),
		ensemble,
		sentiment.NewKeywordExtractor(lexicon),
		generator,
		a.metrics,
		pipeline.Config{
			ClaimTTL:    cfg.Sentiment.ClaimTTL,
			MaxAttempts: cfg.Sentiment.MaxAttempts,
			BatchSize:   cfg.Sentiment.BatchSize,
			PoolSize:    cfg.Sentiment.PoolSize,
		},
	)

	a.search = search.NewService(a.articles, generator, cfg.Embeddings.ContentDim, cfg.Search.DefaultK, cfg.Search.MaxK)

	var cache query.Cache
	if a.redis != nil {
		cache = a.redis
	}
	a.query = query.NewService(a.articles, cache, cfg.Redis.CacheTTL)

	a.correlator = impact.NewCorrelator(a.articles, correlation.NewRepository(db.DB()), a.priceFeed(), a.metrics, impact.Config{
		Weights: impact.Weights{
			PriceScale:   cfg.Impact.PriceScale,
			VolumeScale:  cfg.Impact.VolumeScale,
			PriceWeight:  cfg.Impact.PriceWeight,
			VolumeWeight: cfg.Impact.VolumeWeight,
		},
		Windows:   cfg.Impact.WindowHours,
		Tolerance: cfg.Impact.Tolerance,
		Lookback:  time.Duration(cfg.Impact.LookbackDays) * 24 * time.Hour,
		BatchSize: cfg.Impact.BatchSize,
	})

	logger.Info("newsimpact initialized",
		zap.String("ensemble_version", ensemble.Version()),
		zap.Strings("members", ensemble.Members()),
		zap.String("embedding_model", generator.Model()),
		zap.String("price_store", cfg.Prices.Store),
	)
	return a, nil
}

func (a *app) initClickHouse(ctx context.Context) error {
	if !a.cfg.ClickHouse.Enabled {
		return nil
	}
	ch, err := database.NewClickHouse(&a.cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.ch = ch

	repo := clickhouse.NewRepository(ch.DB())
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	logger.Info("ClickHouse connection established",
		zap.String("host", a.cfg.ClickHouse.Host),
		zap.String("database", a.cfg.ClickHouse.Database),
	)
	return nil
}

// initRedis is optional: without Redis the cache is off and locks are process-local
func (a *app) initRedis() {
	a.locks = redisAdapter.NewLocalLockFactory()
	if !a.cfg.Redis.Enabled {
		logger.Info("redis disabled, using local locks and no cache")
		return
	}

	client, err := redisAdapter.New(&a.cfg.Redis)
	if err != nil {
		logger.Warn("redis not available, using local locks and no cache", zap.Error(err))
		return
	}
	a.redis = client
	a.locks = client.LockFactory()
	logger.Info("redis connection established (redlock)", zap.String("addr", a.cfg.Redis.Addr()))
}

func (a *app) initMetrics() {
	var w metrics.Writer = metricsWriter.LogWriter{}
	if a.ch != nil {
		w = metricsWriter.NewClickHouseWriter(a.ch.DB())
	}
	a.metrics = metrics.NewBufferedMetrics(metrics.BufferConfig{
		Writer:        w,
		BatchSize:     a.cfg.Metrics.BatchSize,
		FlushInterval: a.cfg.Metrics.FlushInterval,
		MaxBufferSize: a.cfg.Metrics.MaxBuffer,
	})
}

// initEnsemble builds the local lexicon member plus the hosted one when configured
func initEnsemble(cfg *config.Config, renderer templates.Renderer) (*sentiment.Ensemble, *sentiment.Analyzer, error) {
	lexicon := sentiment.NewAnalyzer()
	members := []sentiment.Member{lexicon}

	classifier, err := ai.New(&cfg.LLM, renderer, cfg.Sentiment.MaxTextChars)
	if err != nil {
		return nil, nil, err
	}
	if classifier.IsEnabled() {
		members = append(members, classifier)
	} else {
		logger.Warn("hosted sentiment model disabled, ensemble runs on the lexicon alone")
	}

	s := cfg.Sentiment
	ensemble := sentiment.NewEnsemble(sentiment.Policy{
		DisagreementPenalty: s.DisagreementPenalty,
		FallbackCeiling:     s.FallbackCeiling,
		MemberTimeout:       s.MemberTimeout,
		JoinTimeout:         s.JoinTimeout,
		MemberMaxAttempts:   s.MemberMaxAttempts,
		MaxTextChars:        s.MaxTextChars,
	}, members...)
	return ensemble, lexicon, nil
}

// initEmbeddings fixes the content model for the lifetime of the process
func (a *app) initEmbeddings() *embeddings.Generator {
	cfg := a.cfg.Embeddings
	tone := sentiment.NewAnalyzer()

	if cfg.Provider != "openai" {
		logger.Warn("using local hash embeddings (lower quality)", zap.Int("dim", cfg.ContentDim))
		return embeddings.NewGenerator(embeddings.NewHashEmbedder(cfg.ContentDim), tone, cfg.ContentDim, cfg.SentimentDim)
	}

	client := embeddings.NewClient(embeddings.Config{
		OpenAIClient:  openai.NewClient(a.cfg.EmbeddingsKey()),
		Repository:    embeddingsRepo.NewRepository(a.db.DB()),
		MetricsBuffer: a.metrics,
		Model:         openai.EmbeddingModel(cfg.Model),
		Dimensions:    cfg.ContentDim,
	})
	logger.Info("OpenAI embeddings client initialized", zap.String("model", cfg.Model))
	return embeddings.NewGenerator(client, tone, cfg.ContentDim, cfg.SentimentDim)
}

func (a *app) initAggregator() *news.Aggregator {
	cfg := a.cfg.News
	var providers []news.Provider

	if cfg.AlphaVantageKey != "" {
		providers = append(providers, news.NewAlphaVantageProvider(a.av, cfg.MaxArticles, cfg.FetchMaxAttempts))
	} else {
		logger.Warn("alpha vantage key not set, news provider disabled")
	}
	if cfg.CoinDeskEnabled {
		providers = append(providers, news.NewCoinDeskProvider(true, cfg.FetchTimeout))
	}

	var enricher news.Enricher
	if cfg.EnrichBody {
		enricher = news.NewReadabilityEnricher(cfg.EnrichMinChars, cfg.FetchTimeout, ratelimit.PerMinute(30))
	}

	logger.Info("news providers configured", zap.Int("count", len(providers)))
	return news.NewAggregator(providers, enricher)
}

// priceFeed picks the bar store shared by the price worker and the correlator
func (a *app) priceFeed() price.Feed {
	interval := a.cfg.Prices.BarInterval
	if a.cfg.Prices.Store == "clickhouse" && a.ch != nil {
		a.barStore = clickhouse.NewRepository(a.ch.DB())
		return market.NewRepository(a.ch.DB(), interval)
	}
	repo := price.NewRepository(a.db.DB(), interval)
	a.barStore = repo
	return repo
}

// checks lists the dependencies probed by the health server
func (a *app) checks() map[string]health.Checker {
	out := map[string]health.Checker{"database": a.db}
	if a.ch != nil {
		out["clickhouse"] = a.ch
	}
	if a.redis != nil {
		out["redis"] = a.redis
	}
	return out
}

// Close flushes metrics and closes connections in reverse order
func (a *app) Close(ctx context.Context) {
	if a.metrics != nil {
		if err := a.metrics.Close(ctx); err != nil {
			logger.Error("failed to flush metrics", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	logger.Info("connections closed")
}
