package news

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// Provider maps one upstream feed into RawArticles
type Provider interface {
	Name() string
	Fetch(ctx context.Context, params models.FetchParams) ([]models.RawArticle, error)
	IsEnabled() bool
}

// Enricher may replace a short body with the full article text
type Enricher interface {
	Enrich(ctx context.Context, raw *models.RawArticle)
}

// Aggregator fans a fetch out to every enabled provider
type Aggregator struct {
	enricher  Enricher
	providers []Provider
}

func NewAggregator(providers []Provider, enricher Enricher) *Aggregator {
	return &Aggregator{providers: providers, enricher: enricher}
}

// ProviderResult is what one provider returned in a fetch
type ProviderResult struct {
	Err      error
	Provider string
	Articles []models.RawArticle
}

// FetchAll queries enabled providers in parallel. It fails with
// models.ErrSourceUnavailable only when every enabled provider failed.
func (a *Aggregator) FetchAll(ctx context.Context, params models.FetchParams) ([]ProviderResult, error) {
	results := make(chan ProviderResult, len(a.providers))
	enabledCount := 0

	for _, provider := range a.providers {
		if !provider.IsEnabled() {
			continue
		}
		enabledCount++

		go func(p Provider) {
			articles, err := p.Fetch(ctx, params)
			results <- ProviderResult{Provider: p.Name(), Articles: articles, Err: err}
		}(provider)
	}

	if enabledCount == 0 {
		return nil, fmt.Errorf("%w: no news provider enabled", models.ErrSourceUnavailable)
	}

	out := make([]ProviderResult, 0, enabledCount)
	var errs []error
	for i := 0; i < enabledCount; i++ {
		res := <-results
		if res.Err != nil {
			logger.Warn("news provider failed",
				zap.String("provider", res.Provider),
				zap.Error(res.Err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", res.Provider, res.Err))
			out = append(out, res)
			continue
		}
		if a.enricher != nil {
			for j := range res.Articles {
				a.enricher.Enrich(ctx, &res.Articles[j])
			}
		}
		out = append(out, res)
	}

	if len(errs) == enabledCount {
		return out, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, errors.Join(errs...))
	}
	return out, nil
}
