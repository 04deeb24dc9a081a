package news

import (
	"context"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/ratelimit"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// ReadabilityEnricher fetches the article page when the provider only gave a short summary
type ReadabilityEnricher struct {
	limiter  *ratelimit.Limiter
	fetch    func(url string, timeout time.Duration) (string, error)
	minChars int
	timeout  time.Duration
}

func NewReadabilityEnricher(minChars int, timeout time.Duration, limiter *ratelimit.Limiter) *ReadabilityEnricher {
	return &ReadabilityEnricher{
		minChars: minChars,
		timeout:  timeout,
		limiter:  limiter,
		fetch:    fetchReadable,
	}
}

func fetchReadable(url string, timeout time.Duration) (string, error) {
	article, err := readability.FromURL(url, timeout)
	if err != nil {
		return "", err
	}
	return article.TextContent, nil
}

// Enrich never fails: on any error the provider body is kept
func (e *ReadabilityEnricher) Enrich(ctx context.Context, raw *models.RawArticle) {
	if len(raw.Body) >= e.minChars || raw.URL == "" {
		return
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}

	text, err := e.fetch(raw.URL, e.timeout)
	if err != nil {
		logger.Debug("readability fetch failed", zap.String("url", raw.URL), zap.Error(err))
		return
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > len(raw.Body) {
		raw.Body = text
	}
}
