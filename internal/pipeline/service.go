package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/news"
	"github.com/selivandex/newsimpact/internal/ingest"
	"github.com/selivandex/newsimpact/internal/sentiment"
	"github.com/selivandex/newsimpact/pkg/embeddings"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/metrics"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/worker"
)

const (
	maxKeywords = 12

	ModelLexicon  = "lexicon"
	ModelEnsemble = "ensemble"
)

// ArticleStore is the write side of the article repository used by the pipeline
type ArticleStore interface {
	ingest.Store
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error)
	ListClaimable(ctx context.Context, ttl time.Duration, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, id uuid.UUID, ttl time.Duration, rescore bool) (*models.Article, bool, error)
	CompleteScoring(ctx context.Context, id uuid.UUID, claimedAt time.Time, members []models.SentimentAnalysis, final models.SentimentAnalysis, u news.ScoreUpdate) error
	FailScoring(ctx context.Context, id uuid.UUID, claimedAt time.Time, members []models.SentimentAnalysis, reason string, maxAttempts int) (models.ProcessingStatus, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, claimedAt time.Time) error
	ListBinaryScored(ctx context.Context, limit int) ([]uuid.UUID, int, error)
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListMissingEmbeddings(ctx context.Context, model string, limit int) ([]models.Article, error)
	SaveEmbeddings(ctx context.Context, id uuid.UUID, content, sentiment []float32, model string) error
}

// Fetcher pulls raw articles from every enabled provider
type Fetcher interface {
	FetchAll(ctx context.Context, params models.FetchParams) ([]news.ProviderResult, error)
}

// VectorGenerator embeds article text in both spaces
type VectorGenerator interface {
	Generate(ctx context.Context, text string) (*embeddings.Vectors, error)
	Model() string
}

type Config struct {
	ClaimTTL    time.Duration
	MaxAttempts int
	BatchSize   int
	PoolSize    int
}

// Service runs fetch, dedup, scoring, embedding and retention over the store
type Service struct {
	store    ArticleStore
	fetcher  Fetcher
	ingestor *ingest.Ingestor
	ensemble *sentiment.Ensemble
	keywords *sentiment.KeywordExtractor
	vectors  VectorGenerator
	metrics  metrics.Buffer
	now      func() time.Time
	cfg      Config
}

func NewService(
	store ArticleStore,
	fetcher Fetcher,
	ensemble *sentiment.Ensemble,
	keywords *sentiment.KeywordExtractor,
	vectors VectorGenerator,
	buf metrics.Buffer,
	cfg Config,
) *Service {
	if buf == nil {
		buf = metrics.Nop{}
	}
	return &Service{
		store:    store,
		fetcher:  fetcher,
		ingestor: ingest.New(store),
		ensemble: ensemble,
		keywords: keywords,
		vectors:  vectors,
		metrics:  buf,
		now:      time.Now,
		cfg:      cfg,
	}
}

// ProcessResult is the outcome of scoring one article
type ProcessResult struct {
	Ensemble  *models.EnsembleResult  `json:"ensemble,omitempty"`
	Status    models.ProcessingStatus `json:"processing_status"`
	ArticleID uuid.UUID               `json:"article_id"`
	Skipped   bool                    `json:"skipped"`
	Embedded  bool                    `json:"embedded"`
}

// FetchAndProcess fetches from every provider, stores unseen articles and
// scores the inserted ones. Only a failure of every provider is an error.
func (s *Service) FetchAndProcess(ctx context.Context, params models.FetchParams) (models.IngestResult, error) {
	total := models.IngestResult{InsertedIDs: []uuid.UUID{}}

	results, fetchErr := s.fetcher.FetchAll(ctx, params)
	for _, pr := range results {
		if pr.Err != nil {
			continue
		}
		start := time.Now()
		res, err := s.ingestor.Ingest(ctx, pr.Articles)
		if err != nil {
			logger.Error("ingest batch had store failures",
				zap.String("provider", pr.Provider),
				zap.Error(err),
			)
		}
		s.addMetric(&metrics.IngestMetric{
			Timestamp:        start,
			Provider:         pr.Provider,
			Fetched:          len(pr.Articles),
			Inserted:         res.Inserted,
			SkippedDuplicate: res.SkippedDuplicate,
			RejectedInvalid:  res.RejectedInvalid,
			DurationMs:       time.Since(start).Milliseconds(),
		})
		total.Add(res)
	}
	if fetchErr != nil {
		return total, fetchErr
	}

	scored, _ := s.processIDs(ctx, s.ensemble, total.InsertedIDs, false)
	total.Scored = scored

	logger.Info("fetch and process finished",
		zap.Int("inserted", total.Inserted),
		zap.Int("skipped_duplicate", total.SkippedDuplicate),
		zap.Int("rejected_invalid", total.RejectedInvalid),
		zap.Int("scored", total.Scored),
	)
	return total, nil
}

// ScorePending claims and scores one batch of queued articles on the worker pool
func (s *Service) ScorePending(ctx context.Context) (scored, failed int, err error) {
	ids, err := s.store.ListClaimable(ctx, s.cfg.ClaimTTL, s.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}
	scored, failed = s.processIDs(ctx, s.ensemble, ids, false)
	return scored, failed, nil
}

func (s *Service) processIDs(ctx context.Context, ens *sentiment.Ensemble, ids []uuid.UUID, rescore bool) (scored, failed int) {
	type tally struct{ scored, failed int }
	counts := make(chan tally, len(ids))

	worker.ForEach(ctx, s.cfg.PoolSize, ids, func(ctx context.Context, id uuid.UUID) {
		res, err := s.process(ctx, ens, id, rescore)
		switch {
		case err != nil:
			counts <- tally{failed: 1}
		case res.Skipped:
		default:
			counts <- tally{scored: 1}
		}
	})
	close(counts)

	for c := range counts {
		scored += c.scored
		failed += c.failed
	}
	return scored, failed
}

// ProcessArticle scores one queued article. Losing the claim to another
// worker is a skip, not an error.
func (s *Service) ProcessArticle(ctx context.Context, id uuid.UUID) (*ProcessResult, error) {
	return s.process(ctx, s.ensemble, id, false)
}

// Reprocess re-runs scoring and embedding for one article whatever its state
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID) (*ProcessResult, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.process(ctx, s.ensemble, id, true)
}

func (s *Service) process(ctx context.Context, ens *sentiment.Ensemble, id uuid.UUID, rescore bool) (*ProcessResult, error) {
	article, claimed, err := s.store.Claim(ctx, id, s.cfg.ClaimTTL, rescore)
	if err != nil {
		return nil, err
	}
	out := &ProcessResult{ArticleID: id}
	if !claimed {
		logger.Debug("article claimed elsewhere, skipping", zap.String("article_id", id.String()))
		out.Skipped = true
		return out, nil
	}
	// every write below is accepted only while this claim is still the live one
	var claimedAt time.Time
	if article.ClaimedAt != nil {
		claimedAt = *article.ClaimedAt
	}

	in := &models.ScoringInput{
		Text:    article.Text(),
		Ticker:  article.TickerSymbol(),
		Company: deref(article.CompanyName),
		Source:  article.Source,
	}

	res, scoreErr := ens.Score(ctx, in)
	if ctx.Err() != nil {
		// shutdown: hand the claim back, nothing partial is committed
		s.release(id, claimedAt)
		return nil, ctx.Err()
	}

	version := ens.Version()
	var members []models.SentimentAnalysis
	if res != nil {
		version = res.Version
		for _, m := range res.Members {
			members = append(members, models.NewMemberAnalysis(id, version, m, sentiment.Label))
		}
		s.recordScoring(id, res)
	}

	if scoreErr != nil {
		status, err := s.store.FailScoring(ctx, id, claimedAt, members, scoreErr.Error(), s.cfg.MaxAttempts)
		if errors.Is(err, news.ErrClaimLost) {
			out.Skipped = true
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out.Status = status
		logger.Warn("article scoring failed",
			zap.String("article_id", id.String()),
			zap.String("status", string(status)),
			zap.Error(scoreErr),
		)
		return out, scoreErr
	}

	update := news.ScoreUpdate{
		Score:          res.Score,
		Label:          res.Label,
		Confidence:     res.Confidence,
		Agreement:      res.Agreement,
		Interpretation: res.Interpretation,
		Keywords:       ingest.MergeKeywords(article.Keywords, s.keywords.Extract(article.Text(), maxKeywords)),
	}
	err = s.store.CompleteScoring(ctx, id, claimedAt, members, models.NewFinalAnalysis(id, res), update)
	if errors.Is(err, news.ErrClaimLost) {
		logger.Debug("claim expired before commit", zap.String("article_id", id.String()))
		out.Skipped = true
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	out.Status = models.StatusScored
	out.Ensemble = res
	out.Embedded = s.embed(ctx, article)

	logger.Debug("article scored",
		zap.String("article_id", id.String()),
		zap.Float64("score", res.Score),
		zap.Float64("confidence", res.Confidence),
		zap.String("label", string(res.Label)),
		zap.Bool("degraded", res.Degraded),
	)
	return out, nil
}

// embed is best effort: the backfill pass retries anything that fails here
func (s *Service) embed(ctx context.Context, a *models.Article) bool {
	if s.vectors == nil {
		return false
	}
	if err := s.embedArticle(ctx, a); err != nil {
		level := logger.Warn
		if errors.Is(err, models.ErrDimensionMismatch) {
			level = logger.Error
		}
		level("embedding deferred to backfill",
			zap.String("article_id", a.ID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Service) embedArticle(ctx context.Context, a *models.Article) error {
	v, err := s.vectors.Generate(ctx, a.Text())
	if err != nil {
		return err
	}
	return s.store.SaveEmbeddings(ctx, a.ID, v.Content, v.Sentiment, v.Model)
}

// BackfillEmbeddings embeds up to limit articles missing vectors for the
// current model. A dimension mismatch aborts the pass; it will not heal on retry.
func (s *Service) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	if s.vectors == nil {
		return 0, nil
	}
	articles, err := s.store.ListMissingEmbeddings(ctx, s.vectors.Model(), limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range articles {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := s.embedArticle(ctx, &articles[i]); err != nil {
			if errors.Is(err, models.ErrDimensionMismatch) {
				return done, err
			}
			logger.Warn("embedding backfill failed",
				zap.String("article_id", articles[i].ID.String()),
				zap.Error(err),
			)
			continue
		}
		done++
	}
	return done, nil
}

// ReprocessBinary re-scores one batch of articles whose stored score is
// exactly ±0.5. model is "lexicon" for the local classifier alone or
// "ensemble" for every member.
func (s *Service) ReprocessBinary(ctx context.Context, batch int, model string) (*models.ReprocessResult, error) {
	var ens *sentiment.Ensemble
	switch strings.ToLower(model) {
	case ModelLexicon:
		ens = s.ensemble.Only(sentiment.LexiconModel)
	case ModelEnsemble, "":
		ens = s.ensemble
	default:
		return nil, fmt.Errorf("unknown reprocess model %q, want %s or %s", model, ModelLexicon, ModelEnsemble)
	}
	if len(ens.Members()) == 0 {
		return nil, fmt.Errorf("no ensemble member available for %s reprocessing", model)
	}
	if batch <= 0 {
		batch = 50
	}

	ids, total, err := s.store.ListBinaryScored(ctx, batch)
	if err != nil {
		return nil, err
	}

	processed, failed := s.processIDs(ctx, ens, ids, true)

	out := &models.ReprocessResult{
		ModelUsed: strings.Join(ens.Members(), "+"),
		Processed: processed,
		Errors:    failed,
		Remaining: max(total-processed, 0),
	}
	logger.Info("binary-score reprocessing finished",
		zap.String("model", out.ModelUsed),
		zap.Int("processed", out.Processed),
		zap.Int("errors", out.Errors),
		zap.Int("remaining", out.Remaining),
	)
	return out, nil
}

// Archive flags articles older than days as archived; rows are never deleted
func (s *Service) Archive(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, fmt.Errorf("archive retention must be at least one day, got %d", days)
	}
	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.store.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger.Info("articles archived", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}

func (s *Service) release(id uuid.UUID, claimedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseClaim(ctx, id, claimedAt); err != nil {
		logger.Warn("failed to release scoring claim", zap.String("article_id", id.String()), zap.Error(err))
	}
}

func (s *Service) recordScoring(id uuid.UUID, res *models.EnsembleResult) {
	now := s.now()
	for _, m := range res.Members {
		s.addMetric(&metrics.ScoringMetric{
			Timestamp:  now,
			ArticleID:  id.String(),
			Model:      m.Model,
			Kind:       "member",
			Score:      m.Score,
			Confidence: m.Confidence,
			LatencyMs:  m.Latency.Milliseconds(),
			Attempts:   m.Attempts,
			Succeeded:  m.Succeeded,
		})
	}
	if res.SucceededMembers() > 0 {
		s.addMetric(&metrics.ScoringMetric{
			Timestamp:  now,
			ArticleID:  id.String(),
			Model:      res.Version,
			Kind:       "final",
			Score:      res.Score,
			Confidence: res.Confidence,
			Succeeded:  true,
		})
	}
}

func (s *Service) addMetric(m metrics.Metric) {
	if err := s.metrics.Add(m); err != nil {
		logger.Debug("metric dropped", zap.String("table", m.TableName()), zap.Error(err))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
