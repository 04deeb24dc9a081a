package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// Store persists new articles. InsertIfAbsent must be atomic on the dedup key
// and report inserted=false when the key already exists.
type Store interface {
	InsertIfAbsent(ctx context.Context, article *models.Article) (bool, error)
}

// Ingestor validates raw articles, assigns identities and stores new ones.
// Stored articles start unscored, which is what queues them for scoring.
type Ingestor struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Ingestor {
	return &Ingestor{store: store, now: time.Now}
}

// Ingest stores every valid, unseen article. A store failure for one article
// is collected and the rest of the batch continues.
func (i *Ingestor) Ingest(ctx context.Context, raws []models.RawArticle) (models.IngestResult, error) {
	result := models.IngestResult{InsertedIDs: []uuid.UUID{}}
	seen := make(map[string]bool, len(raws))
	var errs []error

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := Validate(raw); err != nil {
			result.RejectedInvalid++
			logger.Debug("rejected invalid article", zap.String("url", raw.URL), zap.Error(err))
			continue
		}

		article := i.toArticle(raw)
		if seen[article.DedupKey] {
			result.SkippedDuplicate++
			continue
		}
		seen[article.DedupKey] = true

		inserted, err := i.store.InsertIfAbsent(ctx, article)
		if err != nil {
			logger.Error("failed to store article",
				zap.String("dedup_key", article.DedupKey),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("store %s: %w", article.URL, err))
			continue
		}
		if !inserted {
			result.SkippedDuplicate++
			logger.Debug("duplicate article skipped", zap.String("dedup_key", article.DedupKey))
			continue
		}

		result.Inserted++
		result.InsertedIDs = append(result.InsertedIDs, article.ID)
	}

	return result, errors.Join(errs...)
}

// Validate requires a non-empty URL and title
func Validate(raw models.RawArticle) error {
	if strings.TrimSpace(raw.URL) == "" {
		return fmt.Errorf("%w: missing url", models.ErrInvalidArticle)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return fmt.Errorf("%w: missing title", models.ErrInvalidArticle)
	}
	return nil
}

func (i *Ingestor) toArticle(raw models.RawArticle) *models.Article {
	published := raw.PublishedAt
	if published.IsZero() {
		published = i.now()
	}
	published = published.UTC()

	source := strings.TrimSpace(raw.Source)
	if source == "" {
		source = raw.Provider
	}

	now := i.now().UTC()
	return &models.Article{
		ID:          uuid.New(),
		DedupKey:    DedupKey(raw.URL, raw.Title, source, published),
		PublishedAt: published,
		Title:       strings.TrimSpace(raw.Title),
		Body:        strings.TrimSpace(raw.Body),
		URL:         strings.TrimSpace(raw.URL),
		Source:      source,
		Author:      optional(raw.Author),
		Ticker:      optional(strings.ToUpper(raw.Ticker)),
		CompanyName: optional(raw.CompanyName),
		Sector:      optional(raw.Sector),
		Industry:    optional(raw.Industry),
		RawPayload:  raw.Payload,
		Keywords:    MergeKeywords(raw.Keywords),
		Entities:    ExtractEntities(raw),
		Status:      models.StatusUnscored,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
