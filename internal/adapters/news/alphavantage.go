package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/alphavantage"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
)

const avTimeLayout = "20060102T150405"

// AlphaVantageProvider reads the NEWS_SENTIMENT feed
type AlphaVantageProvider struct {
	client      *alphavantage.Client
	policy      retry.Policy
	maxArticles int
}

func NewAlphaVantageProvider(client *alphavantage.Client, maxArticles, maxAttempts int) *AlphaVantageProvider {
	policy := retry.Default("alphavantage-news")
	policy.MaxAttempts = maxAttempts
	return &AlphaVantageProvider{client: client, policy: policy, maxArticles: maxArticles}
}

func (p *AlphaVantageProvider) Name() string { return "alphavantage" }

func (p *AlphaVantageProvider) IsEnabled() bool { return p.client.Configured() }

type avFeedItem struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	TimePublished string   `json:"time_published"`
	Authors       []string `json:"authors"`
	Summary       string   `json:"summary"`
	Source        string   `json:"source"`
	Topics        []struct {
		Topic string `json:"topic"`
	} `json:"topics"`
	TickerSentiment []struct {
		Ticker     string `json:"ticker"`
		TickerName string `json:"ticker_name"`
	} `json:"ticker_sentiment"`
}

// Fetch pulls the feed, retrying transient failures. Quota notices are not retried.
func (p *AlphaVantageProvider) Fetch(ctx context.Context, params models.FetchParams) ([]models.RawArticle, error) {
	q := url.Values{}
	limit := params.Limit
	if limit <= 0 || limit > p.maxArticles {
		limit = p.maxArticles
	}
	q.Set("limit", strconv.Itoa(limit))
	if len(params.Tickers) > 0 {
		q.Set("tickers", strings.Join(params.Tickers, ","))
	}
	if len(params.Topics) > 0 {
		q.Set("topics", strings.Join(params.Topics, ","))
	}

	var feed []json.RawMessage
	_, err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		body, err := p.client.Query(ctx, "NEWS_SENTIMENT", q)
		if err != nil {
			return err
		}
		raw, ok := body["feed"]
		if !ok {
			feed = nil
			return nil
		}
		return json.Unmarshal(raw, &feed)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: alphavantage: %v", models.ErrSourceUnavailable, err)
	}

	articles := make([]models.RawArticle, 0, len(feed))
	for _, rawItem := range feed {
		article, err := parseFeedItem(rawItem)
		if err != nil {
			logger.Debug("skipping unparsable feed item", zap.Error(err))
			continue
		}
		articles = append(articles, article)
	}

	logger.Debug("fetched alphavantage news",
		zap.Int("items", len(feed)),
		zap.Int("articles", len(articles)),
	)
	return articles, nil
}

func parseFeedItem(rawItem json.RawMessage) (models.RawArticle, error) {
	var item avFeedItem
	if err := json.Unmarshal(rawItem, &item); err != nil {
		return models.RawArticle{}, err
	}

	article := models.RawArticle{
		Provider: "alphavantage",
		Title:    item.Title,
		URL:      item.URL,
		Body:     item.Summary,
		Source:   item.Source,
		Author:   strings.Join(item.Authors, ", "),
		Payload:  rawItem,
	}

	if item.TimePublished != "" {
		ts, err := time.ParseInLocation(avTimeLayout, item.TimePublished, time.UTC)
		if err != nil {
			return models.RawArticle{}, fmt.Errorf("bad time_published %q: %w", item.TimePublished, err)
		}
		article.PublishedAt = ts
	}

	if len(item.TickerSentiment) > 0 {
		article.Ticker = item.TickerSentiment[0].Ticker
		article.CompanyName = item.TickerSentiment[0].TickerName
	}
	for _, t := range item.Topics {
		if t.Topic != "" {
			article.Keywords = append(article.Keywords, t.Topic)
		}
	}
	return article, nil
}
