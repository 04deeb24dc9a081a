package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/newsimpact/internal/adapters/news"
	"github.com/selivandex/newsimpact/internal/sentiment"
	"github.com/selivandex/newsimpact/pkg/embeddings"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// memStore mimics the repository's dedup guard and claim transitions
type memStore struct {
	mu        sync.Mutex
	byKey     map[string]uuid.UUID
	articles  map[uuid.UUID]*models.Article
	analyses  []models.SentimentAnalysis
	finals    map[string]bool
	vectors   map[uuid.UUID]string
	archiveAt time.Time
	claims    int
}

func newMemStore() *memStore {
	return &memStore{
		byKey:    map[string]uuid.UUID{},
		articles: map[uuid.UUID]*models.Article{},
		finals:   map[string]bool{},
		vectors:  map[uuid.UUID]string{},
	}
}

func (m *memStore) InsertIfAbsent(_ context.Context, a *models.Article) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[a.DedupKey]; ok {
		return false, nil
	}
	m.byKey[a.DedupKey] = a.ID
	cp := *a
	m.articles[a.ID] = &cp
	return true, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, models.ErrArticleNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListClaimable(_ context.Context, _ time.Duration, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, a := range m.articles {
		if a.Status == models.StatusUnscored && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) Claim(_ context.Context, id uuid.UUID, _ time.Duration, rescore bool) (*models.Article, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, false, nil
	}
	claimable := a.Status == models.StatusUnscored ||
		(rescore && (a.Status == models.StatusScored || a.Status == models.StatusScoringFailed))
	if !claimable {
		return nil, false, nil
	}
	m.claims++
	claimedAt := time.Unix(int64(m.claims), 0)
	a.Status = models.StatusScoring
	a.ClaimedAt = &claimedAt
	cp := *a
	return &cp, true, nil
}

func (m *memStore) holds(a *models.Article, claimedAt time.Time) bool {
	return a.Status == models.StatusScoring && a.ClaimedAt != nil && a.ClaimedAt.Equal(claimedAt)
}

func (m *memStore) CompleteScoring(_ context.Context, id uuid.UUID, claimedAt time.Time, members []models.SentimentAnalysis, final models.SentimentAnalysis, u news.ScoreUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.articles[id]
	if !m.holds(a, claimedAt) {
		return news.ErrClaimLost
	}
	m.analyses = append(m.analyses, members...)
	key := id.String() + final.EnsembleVersion
	if !m.finals[key] {
		m.finals[key] = true
		m.analyses = append(m.analyses, final)
		score, conf, label := u.Score, u.Confidence, u.Label
		a.SentimentScore, a.ConfidenceScore, a.SentimentLabel = &score, &conf, &label
		a.ModelAgreement = u.Agreement
	}
	a.Keywords = u.Keywords
	a.ClaimedAt = nil
	a.Status = models.StatusScored
	a.IsProcessed = true
	return nil
}

func (m *memStore) FailScoring(_ context.Context, id uuid.UUID, claimedAt time.Time, members []models.SentimentAnalysis, reason string, maxAttempts int) (models.ProcessingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.articles[id]
	if !m.holds(a, claimedAt) {
		return "", news.ErrClaimLost
	}
	a.ClaimedAt = nil
	m.analyses = append(m.analyses, members...)
	a.ScoringAttempts++
	a.LastError = &reason
	switch {
	case a.IsProcessed:
		a.Status = models.StatusScored
	case a.ScoringAttempts >= maxAttempts:
		a.Status = models.StatusScoringFailed
	default:
		a.Status = models.StatusUnscored
	}
	return a.Status, nil
}

func (m *memStore) ReleaseClaim(_ context.Context, id uuid.UUID, claimedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.articles[id]
	if !m.holds(a, claimedAt) {
		return nil
	}
	a.ClaimedAt = nil
	if a.IsProcessed {
		a.Status = models.StatusScored
	} else {
		a.Status = models.StatusUnscored
	}
	return nil
}

func (m *memStore) ListBinaryScored(_ context.Context, limit int) ([]uuid.UUID, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	total := 0
	for id, a := range m.articles {
		if a.SentimentScore != nil && (*a.SentimentScore == 0.5 || *a.SentimentScore == -0.5) {
			total++
			if len(ids) < limit {
				ids = append(ids, id)
			}
		}
	}
	return ids, total, nil
}

func (m *memStore) ArchiveOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.archiveAt = cutoff
	return 2, nil
}

func (m *memStore) ListMissingEmbeddings(_ context.Context, model string, limit int) ([]models.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Article
	for id, a := range m.articles {
		if m.vectors[id] != model && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) SaveEmbeddings(_ context.Context, id uuid.UUID, _, _ []float32, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[id] = model
	return nil
}

type fakeFetcher struct {
	results []news.ProviderResult
	err     error
}

func (f fakeFetcher) FetchAll(context.Context, models.FetchParams) ([]news.ProviderResult, error) {
	return f.results, f.err
}

type stubMember struct {
	name  string
	score float64
	conf  float64
	err   error
}

func (s stubMember) Name() string { return s.name }

func (s stubMember) Classify(context.Context, *models.ScoringInput) (*models.Classification, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Classification{Score: s.score, Confidence: s.conf}, nil
}

// blockingMember never answers before its context ends
type blockingMember struct{ name string }

func (b blockingMember) Name() string { return b.name }

func (blockingMember) Classify(ctx context.Context, _ *models.ScoringInput) (*models.Classification, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type hookMember struct {
	name   string
	during func()
}

func (h hookMember) Name() string { return h.name }

func (h hookMember) Classify(context.Context, *models.ScoringInput) (*models.Classification, error) {
	h.during()
	return &models.Classification{Score: 0.5, Confidence: 0.9}, nil
}

type stubVectors struct{ err error }

func (s stubVectors) Generate(context.Context, string) (*embeddings.Vectors, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &embeddings.Vectors{Model: "stub", Content: []float32{1}, Sentiment: []float32{1}}, nil
}

func (stubVectors) Model() string { return "stub" }

func testPolicy() sentiment.Policy {
	return sentiment.Policy{
		DisagreementPenalty: 0.75,
		FallbackCeiling:     0.8,
		MemberTimeout:       time.Second,
		JoinTimeout:         2 * time.Second,
		MemberMaxAttempts:   1,
		MaxTextChars:        512,
		RetryBaseDelay:      time.Millisecond,
	}
}

func testConfig() Config {
	return Config{ClaimTTL: time.Minute, MaxAttempts: 2, BatchSize: 10, PoolSize: 3}
}

func newService(store *memStore, fetcher Fetcher, members ...sentiment.Member) *Service {
	analyzer := sentiment.NewAnalyzer()
	ens := sentiment.NewEnsemble(testPolicy(), members...)
	return NewService(store, fetcher, ens, sentiment.NewKeywordExtractor(analyzer), stubVectors{}, nil, testConfig())
}

func raw(url, title string) models.RawArticle {
	return models.RawArticle{
		Provider:    "test",
		URL:         url,
		Title:       title,
		Body:        "Shares surged after record earnings beat expectations.",
		Source:      "Wire",
		Ticker:      "aapl",
		PublishedAt: time.Date(2025, 5, 1, 13, 0, 0, 0, time.UTC),
	}
}

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

func TestFetchAndProcess_DedupAndScore(t *testing.T) {
	store := newMemStore()
	fetcher := fakeFetcher{results: []news.ProviderResult{{
		Provider: "test",
		Articles: []models.RawArticle{
			raw("https://example.com/a?utm_source=x", "Apple beats"),
			raw("https://example.com/a", "Apple beats (updated)"),
			raw("", "no url"),
		},
	}}}
	svc := newService(store, fetcher, sentiment.NewAnalyzer(), stubMember{name: "llm", score: 0.6, conf: 0.8})

	res, err := svc.FetchAndProcess(context.Background(), models.FetchParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.SkippedDuplicate)
	assert.Equal(t, 1, res.RejectedInvalid)
	assert.Equal(t, 1, res.Scored)

	again, err := svc.FetchAndProcess(context.Background(), models.FetchParams{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 2, again.SkippedDuplicate)

	a, err := store.GetByID(context.Background(), res.InsertedIDs[0])
	require.NoError(t, err)
	assert.True(t, a.IsProcessed)
	assert.Equal(t, models.StatusScored, a.Status)
	assert.NotNil(t, a.ModelAgreement)
	assert.GreaterOrEqual(t, *a.SentimentScore, -1.0)
	assert.LessOrEqual(t, *a.SentimentScore, 1.0)
	assert.Contains(t, a.Keywords, "earnings")
	assert.Equal(t, "stub", store.vectors[a.ID])
}

func TestFetchAndProcess_SourceUnavailable(t *testing.T) {
	store := newMemStore()
	svc := newService(store, fakeFetcher{err: models.ErrSourceUnavailable}, sentiment.NewAnalyzer())

	_, err := svc.FetchAndProcess(context.Background(), models.FetchParams{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestProcessArticle_AllMembersFail(t *testing.T) {
	store := newMemStore()
	down := errors.New("provider down")
	svc := newService(store, nil, stubMember{name: "a", err: down}, stubMember{name: "b", err: down})

	a := &models.Article{ID: uuid.New(), DedupKey: "k1", Title: "t", Status: models.StatusUnscored}
	_, _ = store.InsertIfAbsent(context.Background(), a)

	res, err := svc.ProcessArticle(context.Background(), a.ID)
	assert.ErrorIs(t, err, models.ErrEnsembleFailure)
	assert.Equal(t, models.StatusUnscored, res.Status)

	_, err = svc.ProcessArticle(context.Background(), a.ID)
	assert.ErrorIs(t, err, models.ErrEnsembleFailure)

	got, _ := store.GetByID(context.Background(), a.ID)
	assert.Equal(t, models.StatusScoringFailed, got.Status)
	assert.False(t, got.IsProcessed)
	assert.Nil(t, got.SentimentScore)
	assert.Len(t, store.analyses, 4, "one member fact per attempt, no final")
}

func TestProcessArticle_LostClaimIsSkip(t *testing.T) {
	store := newMemStore()
	svc := newService(store, nil, sentiment.NewAnalyzer())

	a := &models.Article{ID: uuid.New(), DedupKey: "k2", Title: "t", Status: models.StatusScoring}
	_, _ = store.InsertIfAbsent(context.Background(), a)

	res, err := svc.ProcessArticle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestProcessArticle_CancelReleasesClaim(t *testing.T) {
	store := newMemStore()
	svc := newService(store, nil, blockingMember{name: "local"}, blockingMember{name: "llm"})

	a := &models.Article{ID: uuid.New(), DedupKey: "k-cancel", Title: "t", Status: models.StatusUnscored}
	_, _ = store.InsertIfAbsent(context.Background(), a)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := svc.ProcessArticle(ctx, a.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res)

	got, err := store.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnscored, got.Status)
	assert.False(t, got.IsProcessed)
	assert.Nil(t, got.SentimentScore)
	assert.Zero(t, got.ScoringAttempts)
	assert.Empty(t, store.analyses)
}

func TestReprocess_KeepsOneFinalPerVersion(t *testing.T) {
	store := newMemStore()
	svc := newService(store, nil, sentiment.NewAnalyzer())

	a := &models.Article{ID: uuid.New(), DedupKey: "k3", Title: "Profit jumps", Status: models.StatusUnscored}
	_, _ = store.InsertIfAbsent(context.Background(), a)

	_, err := svc.ProcessArticle(context.Background(), a.ID)
	require.NoError(t, err)
	res, err := svc.Reprocess(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScored, res.Status)

	finals := 0
	for _, an := range store.analyses {
		if an.AnalysisType == models.AnalysisTypeFinal {
			finals++
		}
	}
	assert.Equal(t, 1, finals)

	_, err = svc.Reprocess(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrArticleNotFound)
}

func TestReprocess_SameVersionKeepsRecordedSentiment(t *testing.T) {
	store := newMemStore()
	llm := &stubMember{name: "llm", score: 0.6, conf: 0.9}
	svc := newService(store, nil, llm)

	a := &models.Article{ID: uuid.New(), DedupKey: "k-same", Title: "Profit jumps", Status: models.StatusUnscored}
	_, _ = store.InsertIfAbsent(context.Background(), a)

	_, err := svc.ProcessArticle(context.Background(), a.ID)
	require.NoError(t, err)

	llm.score = -0.6
	res, err := svc.Reprocess(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScored, res.Status)

	var final *models.SentimentAnalysis
	for i := range store.analyses {
		if store.analyses[i].AnalysisType == models.AnalysisTypeFinal {
			require.Nil(t, final, "one final per ensemble version")
			final = &store.analyses[i]
		}
	}
	require.NotNil(t, final)

	got, err := store.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentimentScore)
	assert.Equal(t, 0.6, *got.SentimentScore)
	assert.Equal(t, models.LabelStronglyPositive, *got.SentimentLabel)
	assert.Nil(t, got.ClaimedAt)
}

func TestProcessArticle_TakenOverClaimIsSkip(t *testing.T) {
	store := newMemStore()
	a := &models.Article{ID: uuid.New(), DedupKey: "k-takeover", Title: "t", Status: models.StatusUnscored}
	_, _ = store.InsertIfAbsent(context.Background(), a)

	var live *models.Article
	// the claim expires mid-scoring and another worker re-claims the article
	takeover := hookMember{name: "llm", during: func() {
		store.mu.Lock()
		store.articles[a.ID].Status = models.StatusUnscored
		store.mu.Unlock()
		live, _, _ = store.Claim(context.Background(), a.ID, time.Minute, false)
	}}
	svc := newService(store, nil, takeover)

	res, err := svc.ProcessArticle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	require.NotNil(t, live)
	got, err := store.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScoring, got.Status)
	assert.True(t, got.ClaimedAt.Equal(*live.ClaimedAt), "the newer claim stays live")
	assert.Nil(t, got.SentimentScore)
	assert.Empty(t, store.analyses)
}

func TestReprocessBinary(t *testing.T) {
	store := newMemStore()
	svc := newService(store, nil, sentiment.NewAnalyzer(), stubMember{name: "llm", score: 0.2, conf: 0.9})

	for _, score := range []float64{0.5, -0.5, 0.3} {
		s := score
		a := &models.Article{
			ID:             uuid.New(),
			DedupKey:       uuid.NewString(),
			Title:          "Revenue growth strong",
			Status:         models.StatusScored,
			IsProcessed:    true,
			SentimentScore: &s,
		}
		_, _ = store.InsertIfAbsent(context.Background(), a)
	}

	res, err := svc.ReprocessBinary(context.Background(), 50, ModelLexicon)
	require.NoError(t, err)
	assert.Equal(t, sentiment.LexiconModel, res.ModelUsed)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 0, res.Remaining)

	_, err = svc.ReprocessBinary(context.Background(), 50, "finbert")
	assert.Error(t, err)
}

func TestBackfillEmbeddings(t *testing.T) {
	store := newMemStore()
	svc := newService(store, nil, sentiment.NewAnalyzer())
	for i := 0; i < 3; i++ {
		_, _ = store.InsertIfAbsent(context.Background(), &models.Article{ID: uuid.New(), DedupKey: uuid.NewString(), Title: "t"})
	}

	n, err := svc.BackfillEmbeddings(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	svc.vectors = stubVectors{err: models.ErrDimensionMismatch}
	_, _ = store.InsertIfAbsent(context.Background(), &models.Article{ID: uuid.New(), DedupKey: uuid.NewString(), Title: "t"})
	_, err = svc.BackfillEmbeddings(context.Background(), 10)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestArchive(t *testing.T) {
	store := newMemStore()
	svc := newService(store, nil, sentiment.NewAnalyzer())
	now := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	n, err := svc.Archive(context.Background(), 30)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, now.Add(-30*24*time.Hour), store.archiveAt)

	_, err = svc.Archive(context.Background(), 0)
	assert.Error(t, err)
}
