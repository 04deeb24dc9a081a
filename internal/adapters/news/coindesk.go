package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
)

const coindeskAPIURL = "https://www.coindesk.com/arc/outboundfeeds/news/?outputType=json&size=%d"

// CoinDeskProvider reads the CoinDesk outbound JSON feed
type CoinDeskProvider struct {
	client  *http.Client
	url     string
	policy  retry.Policy
	enabled bool
}

func NewCoinDeskProvider(enabled bool, timeout time.Duration) *CoinDeskProvider {
	return &CoinDeskProvider{
		enabled: enabled,
		client:  &http.Client{Timeout: timeout},
		url:     coindeskAPIURL,
		policy:  retry.Default("coindesk"),
	}
}

func (c *CoinDeskProvider) Name() string { return "coindesk" }

func (c *CoinDeskProvider) IsEnabled() bool { return c.enabled }

type coindeskItem struct {
	ID        string `json:"_id"`
	Type      string `json:"type"`
	Canonical string `json:"canonical_url"`
	Headlines struct {
		Basic string `json:"basic"`
	} `json:"headlines"`
	Description struct {
		Basic string `json:"basic"`
	} `json:"description"`
	Credits struct {
		By []struct {
			Name string `json:"name"`
		} `json:"by"`
	} `json:"credits"`
	Taxonomy struct {
		Tags []struct {
			Text string `json:"text"`
		} `json:"tags"`
	} `json:"taxonomy"`
	DisplayDate time.Time `json:"display_date"`
}

func (c *CoinDeskProvider) Fetch(ctx context.Context, params models.FetchParams) ([]models.RawArticle, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var items []json.RawMessage
	_, err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(c.url, limit), nil)
		if err != nil {
			return retry.Stop(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &retry.StatusError{Code: resp.StatusCode}
		}
		return json.NewDecoder(resp.Body).Decode(&items)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: coindesk: %v", models.ErrSourceUnavailable, err)
	}

	articles := make([]models.RawArticle, 0, len(items))
	for _, rawItem := range items {
		var item coindeskItem
		if err := json.Unmarshal(rawItem, &item); err != nil || item.Type != "story" {
			continue
		}
		if !matchesAny(item.Headlines.Basic+" "+item.Description.Basic, params.Topics) {
			continue
		}

		author := "CoinDesk"
		if len(item.Credits.By) > 0 {
			author = item.Credits.By[0].Name
		}
		var keywords []string
		for _, tag := range item.Taxonomy.Tags {
			keywords = append(keywords, tag.Text)
		}

		articles = append(articles, models.RawArticle{
			Provider:    "coindesk",
			Title:       item.Headlines.Basic,
			Body:        item.Description.Basic,
			URL:         "https://www.coindesk.com" + item.Canonical,
			Source:      "CoinDesk",
			Author:      author,
			PublishedAt: item.DisplayDate,
			Sector:      "Crypto",
			Keywords:    keywords,
			Payload:     rawItem,
		})
	}

	logger.Debug("fetched coindesk news", zap.Int("count", len(articles)))
	return articles, nil
}

// matchesAny keeps everything when no terms are given
func matchesAny(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
