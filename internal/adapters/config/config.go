package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable, e.g. NEWSIMPACT_DB_HOST
const Prefix = "NEWSIMPACT"

// Config represents application configuration
type Config struct {
	Database   DatabaseConfig   `envconfig:"DB"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	News       NewsConfig       `envconfig:"NEWS"`
	Sentiment  SentimentConfig  `envconfig:"SENTIMENT"`
	LLM        LLMConfig        `envconfig:"LLM"`
	Embeddings EmbeddingsConfig `envconfig:"EMBEDDINGS"`
	Impact     ImpactConfig     `envconfig:"IMPACT"`
	Prices     PricesConfig     `envconfig:"PRICES"`
	Search     SearchConfig     `envconfig:"SEARCH"`
	Archive    ArchiveConfig    `envconfig:"ARCHIVE"`
	Health     HealthConfig     `envconfig:"HEALTH"`
	Logging    LoggingConfig    `envconfig:"LOG"`
	Metrics    MetricsConfig    `envconfig:"METRICS"`
}

// DatabaseConfig represents database connection parameters
type DatabaseConfig struct {
	Host           string        `envconfig:"HOST" default:"localhost"`
	Port           int           `envconfig:"PORT" default:"5432"`
	Name           string        `envconfig:"NAME" default:"newsimpact"`
	User           string        `envconfig:"USER" default:"postgres"`
	Password       string        `envconfig:"PASSWORD" default:""`
	SSLMode        string        `envconfig:"SSLMODE" default:"disable"`
	MigrationsPath string        `envconfig:"MIGRATIONS_PATH" default:"./migrations"`
	MaxOpenConns   int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns   int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLife    time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}

// ClickHouseConfig points at the time-series store holding price bars and metrics
type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"9000"`
	Database string `envconfig:"DATABASE" default:"newsimpact"`
	User     string `envconfig:"USER" default:"default"`
	Password string `envconfig:"PASSWORD" default:""`
}

type RedisConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Host     string        `envconfig:"HOST" default:"localhost"`
	Port     int           `envconfig:"PORT" default:"6379"`
	Password string        `envconfig:"PASSWORD" default:""`
	DB       int           `envconfig:"DB" default:"0"`
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"60s"`
}

// NewsConfig configures the news providers and the ingestion pass
type NewsConfig struct {
	AlphaVantageKey  string        `envconfig:"ALPHAVANTAGE_KEY"`
	AlphaVantageURL  string        `envconfig:"ALPHAVANTAGE_URL" default:"https://www.alphavantage.co/query"`
	CoinDeskEnabled  bool          `envconfig:"COINDESK_ENABLED" default:"false"`
	Tickers          []string      `envconfig:"TICKERS" default:"AAPL,MSFT,GOOGL,AMZN,TSLA"`
	Topics           []string      `envconfig:"TOPICS"`
	Interval         time.Duration `envconfig:"INTERVAL" default:"15m"`
	MaxArticles      int           `envconfig:"MAX_ARTICLES" default:"50"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	RequestsPerMin   float64       `envconfig:"REQUESTS_PER_MINUTE" default:"5"`
	EnrichBody       bool          `envconfig:"ENRICH_BODY" default:"false"`
	EnrichMinChars   int           `envconfig:"ENRICH_MIN_CHARS" default:"200"`
	FetchMaxAttempts int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`
}

// SentimentConfig holds the ensemble policy and the scoring pool
type SentimentConfig struct {
	BatchSize           int           `envconfig:"BATCH_SIZE" default:"20"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"4"`
	Interval            time.Duration `envconfig:"INTERVAL" default:"1m"`
	MemberTimeout       time.Duration `envconfig:"MEMBER_TIMEOUT" default:"20s"`
	JoinTimeout         time.Duration `envconfig:"JOIN_TIMEOUT" default:"45s"`
	MemberMaxAttempts   int           `envconfig:"MEMBER_MAX_ATTEMPTS" default:"3"`
	DisagreementPenalty float64       `envconfig:"DISAGREEMENT_PENALTY" default:"0.75"`
	FallbackCeiling     float64       `envconfig:"FALLBACK_CEILING" default:"0.8"`
	ClaimTTL            time.Duration `envconfig:"CLAIM_TTL" default:"10m"`
	MaxAttempts         int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	MaxTextChars        int           `envconfig:"MAX_TEXT_CHARS" default:"512"`
}

// LLMConfig selects the hosted ensemble member
type LLMConfig struct {
	Provider       string  `envconfig:"PROVIDER" default:"openai"` // openai, deepseek, claude
	APIKey         string  `envconfig:"API_KEY"`
	Model          string  `envconfig:"MODEL"`
	BaseURL        string  `envconfig:"BASE_URL"`
	RequestsPerMin float64 `envconfig:"REQUESTS_PER_MINUTE" default:"60"`
	Temperature    float32 `envconfig:"TEMPERATURE" default:"0.1"`
}

type EmbeddingsConfig struct {
	Provider     string        `envconfig:"PROVIDER" default:"local"` // openai or local
	APIKey       string        `envconfig:"API_KEY"`
	Model        string        `envconfig:"MODEL" default:"text-embedding-3-small"`
	ContentDim   int           `envconfig:"CONTENT_DIM" default:"1536"`
	SentimentDim int           `envconfig:"SENTIMENT_DIM" default:"64"`
	Interval     time.Duration `envconfig:"INTERVAL" default:"2m"`
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"50"`
}

// ImpactConfig holds the correlation windows and the fixed impact formula weights
type ImpactConfig struct {
	WindowHours  []int         `envconfig:"WINDOW_HOURS" default:"1,4,24"`
	Tolerance    time.Duration `envconfig:"TOLERANCE" default:"30m"`
	PriceScale   float64       `envconfig:"PRICE_SCALE_PCT" default:"5"`
	VolumeScale  float64       `envconfig:"VOLUME_SCALE_PCT" default:"50"`
	PriceWeight  float64       `envconfig:"PRICE_WEIGHT" default:"0.8"`
	VolumeWeight float64       `envconfig:"VOLUME_WEIGHT" default:"0.2"`
	Interval     time.Duration `envconfig:"INTERVAL" default:"15m"`
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"100"`
	LookbackDays int           `envconfig:"LOOKBACK_DAYS" default:"7"`
}

// PricesConfig configures intraday bar ingestion and the price store
type PricesConfig struct {
	Store          string        `envconfig:"STORE" default:"postgres"` // postgres or clickhouse
	Enabled        bool          `envconfig:"ENABLED" default:"false"`
	Interval       time.Duration `envconfig:"INTERVAL" default:"30m"`
	BarInterval    string        `envconfig:"BAR_INTERVAL" default:"15min"`
	RequestsPerMin float64       `envconfig:"REQUESTS_PER_MINUTE" default:"5"`
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"500"`
	FlushInterval  time.Duration `envconfig:"FLUSH_INTERVAL" default:"10s"`
}

type SearchConfig struct {
	MaxK     int `envconfig:"MAX_K" default:"50"`
	DefaultK int `envconfig:"DEFAULT_K" default:"10"`
}

type ArchiveConfig struct {
	RetentionDays int           `envconfig:"RETENTION_DAYS" default:"30"`
	Schedule      string        `envconfig:"SCHEDULE" default:"0 0 3 * * *"`
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"5m"`
}

type HealthConfig struct {
	Port int `envconfig:"PORT" default:"8080"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
	File  string `envconfig:"FILE" default:""`
}

type MetricsConfig struct {
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"200"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"10s"`
	MaxBuffer     int           `envconfig:"MAX_BUFFER" default:"10000"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks ranges of the policy constants and provider choices
func (c *Config) Validate() error {
	s := c.Sentiment
	if s.DisagreementPenalty < 0 || s.DisagreementPenalty > 1 {
		return fmt.Errorf("disagreement penalty must be within [0, 1]")
	}
	// the fallback result must stay strictly below full confidence
	if s.FallbackCeiling <= 0 || s.FallbackCeiling >= 1 {
		return fmt.Errorf("fallback ceiling must be within (0, 1)")
	}
	if s.PoolSize < 1 || s.BatchSize < 1 {
		return fmt.Errorf("sentiment pool size and batch size must be positive")
	}
	if s.MemberTimeout <= 0 || s.JoinTimeout < s.MemberTimeout {
		return fmt.Errorf("join timeout must be at least the member timeout")
	}
	if s.MaxAttempts < 1 || s.MemberMaxAttempts < 1 {
		return fmt.Errorf("attempt limits must be at least 1")
	}
	if s.ClaimTTL <= 0 {
		return fmt.Errorf("claim ttl must be positive")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "deepseek", "claude", "none":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Embeddings.Provider {
	case "openai":
		if c.Embeddings.APIKey == "" && c.LLM.APIKey == "" {
			return fmt.Errorf("openai embeddings need an api key")
		}
	case "local":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.ContentDim < 1 || c.Embeddings.SentimentDim < 1 {
		return fmt.Errorf("embedding dimensions must be positive")
	}

	if len(c.Impact.WindowHours) == 0 {
		return fmt.Errorf("at least one impact window is required")
	}
	smallest := c.Impact.WindowHours[0]
	for _, w := range c.Impact.WindowHours {
		if w <= 0 {
			return fmt.Errorf("impact window hours must be positive, got %d", w)
		}
		smallest = min(smallest, w)
	}
	// a wider tolerance lets both window ends resolve to the same bar
	if c.Impact.Tolerance <= 0 || c.Impact.Tolerance >= time.Duration(smallest)*time.Hour {
		return fmt.Errorf("impact tolerance %s must be positive and below the smallest window (%dh)", c.Impact.Tolerance, smallest)
	}
	if c.Impact.PriceScale <= 0 || c.Impact.VolumeScale <= 0 {
		return fmt.Errorf("impact scales must be positive")
	}
	if c.Impact.PriceWeight < 0 || c.Impact.VolumeWeight < 0 || c.Impact.PriceWeight+c.Impact.VolumeWeight <= 0 {
		return fmt.Errorf("impact weights must be non-negative and not both zero")
	}

	switch c.Prices.Store {
	case "postgres":
	case "clickhouse":
		if !c.ClickHouse.Enabled {
			return fmt.Errorf("clickhouse price store requires clickhouse to be enabled")
		}
	default:
		return fmt.Errorf("unknown price store %q", c.Prices.Store)
	}

	if c.Search.MaxK < 1 || c.Search.DefaultK < 1 || c.Search.DefaultK > c.Search.MaxK {
		return fmt.Errorf("search k bounds are invalid")
	}
	if c.Archive.RetentionDays < 1 {
		return fmt.Errorf("archive retention must be at least one day")
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetDSN returns the clickhouse:// connection string
func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EmbeddingsKey falls back to the LLM key when no dedicated one is set
func (c *Config) EmbeddingsKey() string {
	if c.Embeddings.APIKey != "" {
		return c.Embeddings.APIKey
	}
	return c.LLM.APIKey
}

// LLMModel returns the configured model or the provider default
func (c *LLMConfig) LLMModel() string {
	if c.Model != "" {
		return c.Model
	}
	switch strings.ToLower(c.Provider) {
	case "deepseek":
		return "deepseek-chat"
	case "claude":
		return "claude-3-5-haiku-20241022"
	default:
		return "gpt-4o-mini"
	}
}
