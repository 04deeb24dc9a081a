package news

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/selivandex/newsimpact/pkg/models"
)

// ErrClaimLost means the article left the scoring state, or another worker
// re-claimed it, before the result was committed
var ErrClaimLost = errors.New("scoring claim lost")

// columns every article read returns; vectors are only read by search
const articleColumns = `
	id, dedup_key, published_at, title, body, url, source, author, ticker,
	company_name, sector, industry, raw_payload, sentiment_score, sentiment_label,
	confidence_score, model_agreement, interpretation, embedding_model, keywords,
	entities, market_impact_score, processing_status, scoring_attempts, last_error,
	claimed_at, is_processed, is_archived, created_at, updated_at`

// Repository stores articles and their sentiment facts in Postgres
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsent writes the dedup key and the article in one transaction.
// The key insert is the authoritative guard; a conflict means a duplicate.
func (r *Repository) InsertIfAbsent(ctx context.Context, a *models.Article) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimed uuid.UUID
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO article_keys (dedup_key, article_id, url, published_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING article_id
	`, a.DedupKey, a.ID, a.URL, a.PublishedAt).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert dedup key: %w", err)
	}

	entities, err := a.Entities.Value()
	if err != nil {
		return false, err
	}
	var payload interface{}
	if len(a.RawPayload) > 0 {
		payload = []byte(a.RawPayload)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO articles (
			id, dedup_key, published_at, title, body, url, source, author, ticker,
			company_name, sector, industry, raw_payload, keywords, entities,
			processing_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
	`,
		a.ID, a.DedupKey, a.PublishedAt, a.Title, a.Body, a.URL, a.Source, a.Author, a.Ticker,
		a.CompanyName, a.Sector, a.Industry, payload, pq.Array([]string(a.Keywords)), entities,
		models.StatusUnscored, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert article: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error) {
	var a models.Article
	err := r.db.GetContext(ctx, &a, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &a, nil
}

// ========== SCORING STATE ==========

// ListClaimable returns unscored articles and scoring claims older than ttl, newest first
func (r *Repository) ListClaimable(ctx context.Context, ttl time.Duration, limit int) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM articles
		WHERE NOT is_archived
			AND (processing_status = 'unscored'
				OR (processing_status = 'scoring' AND claimed_at < NOW() - make_interval(secs => $1)))
		ORDER BY published_at DESC
		LIMIT $2
	`, ttl.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable articles: %w", err)
	}
	return ids, nil
}

// Claim moves an article into scoring. It returns ok=false, without error, when
// another worker holds a live claim or the article is not in a claimable state.
// rescore also allows already scored or failed articles to be claimed.
// The returned ClaimedAt identifies this claim to CompleteScoring, FailScoring
// and ReleaseClaim.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, ttl time.Duration, rescore bool) (*models.Article, bool, error) {
	var a models.Article
	err := r.db.GetContext(ctx, &a, `
		UPDATE articles
		SET processing_status = 'scoring', claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1
			AND (processing_status = 'unscored'
				OR (processing_status = 'scoring' AND claimed_at < NOW() - make_interval(secs => $2))
				OR ($3 AND processing_status IN ('scored', 'scoring_failed')))
		RETURNING `+articleColumns, id, ttl.Seconds(), rescore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim article: %w", err)
	}
	return &a, true, nil
}

// ScoreUpdate is what a successful scoring writes onto the article
type ScoreUpdate struct {
	Agreement      *float64
	Label          models.SentimentLabel
	Interpretation string
	Keywords       []string
	Score          float64
	Confidence     float64
}

// CompleteScoring commits member facts, the final fact and the article update atomically.
// The final fact is first-write-wins per ensemble version; when this version
// already has one, the article keeps the sentiment that final recorded.
func (r *Repository) CompleteScoring(ctx context.Context, id uuid.UUID, claimedAt time.Time, members []models.SentimentAnalysis, final models.SentimentAnalysis, u ScoreUpdate) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertAnalyses(ctx, tx, members); err != nil {
		return err
	}

	finalRes, err := tx.NamedExecContext(ctx, `
		INSERT INTO sentiment_analyses (
			id, article_id, model_id, analysis_type, ensemble_version, score, label,
			confidence, reasoning, error_message, latency_ms, succeeded, created_at
		) VALUES (
			:id, :article_id, :model_id, :analysis_type, :ensemble_version, :score, :label,
			:confidence, :reasoning, :error_message, :latency_ms, :succeeded, :created_at
		)
		ON CONFLICT (article_id, ensemble_version) WHERE analysis_type = 'ensemble-final' DO NOTHING
	`, final)
	if err != nil {
		return fmt.Errorf("failed to insert final analysis: %w", err)
	}

	var res sql.Result
	if n, _ := finalRes.RowsAffected(); n == 0 {
		res, err = tx.ExecContext(ctx, `
			UPDATE articles SET
				keywords = $3,
				processing_status = 'scored',
				is_processed = TRUE,
				claimed_at = NULL,
				last_error = NULL,
				updated_at = NOW()
			WHERE id = $1 AND processing_status = 'scoring' AND claimed_at = $2
		`, id, claimedAt, pq.Array(u.Keywords))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE articles SET
				sentiment_score = $3,
				sentiment_label = $4,
				confidence_score = $5,
				model_agreement = $6,
				interpretation = $7,
				keywords = $8,
				processing_status = 'scored',
				is_processed = TRUE,
				claimed_at = NULL,
				last_error = NULL,
				updated_at = NOW()
			WHERE id = $1 AND processing_status = 'scoring' AND claimed_at = $2
		`, id, claimedAt, u.Score, u.Label, u.Confidence, u.Agreement, u.Interpretation, pq.Array(u.Keywords))
	}
	if err != nil {
		return fmt.Errorf("failed to update article sentiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// FailScoring records failed member attempts and returns the article to the queue,
// or parks it as scoring_failed once maxAttempts is reached. Articles that were
// scored before keep their previous result.
func (r *Repository) FailScoring(ctx context.Context, id uuid.UUID, claimedAt time.Time, members []models.SentimentAnalysis, reason string, maxAttempts int) (models.ProcessingStatus, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertAnalyses(ctx, tx, members); err != nil {
		return "", err
	}

	var status models.ProcessingStatus
	err = tx.QueryRowxContext(ctx, `
		UPDATE articles SET
			scoring_attempts = scoring_attempts + 1,
			last_error = $2,
			claimed_at = NULL,
			updated_at = NOW(),
			processing_status = CASE
				WHEN is_processed THEN 'scored'
				WHEN scoring_attempts + 1 >= $3 THEN 'scoring_failed'
				ELSE 'unscored'
			END
		WHERE id = $1 AND processing_status = 'scoring' AND claimed_at = $4
		RETURNING processing_status
	`, id, reason, maxAttempts, claimedAt).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrClaimLost
	}
	if err != nil {
		return "", fmt.Errorf("failed to record scoring failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return status, nil
}

// ReleaseClaim hands an abandoned claim back without recording an attempt
func (r *Repository) ReleaseClaim(ctx context.Context, id uuid.UUID, claimedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles SET
			processing_status = CASE WHEN is_processed THEN 'scored' ELSE 'unscored' END,
			claimed_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND processing_status = 'scoring' AND claimed_at = $2
	`, id, claimedAt)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func insertAnalyses(ctx context.Context, tx *sqlx.Tx, analyses []models.SentimentAnalysis) error {
	if len(analyses) == 0 {
		return nil
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO sentiment_analyses (
			id, article_id, model_id, analysis_type, ensemble_version, score, label,
			confidence, reasoning, error_message, latency_ms, succeeded, created_at
		) VALUES (
			:id, :article_id, :model_id, :analysis_type, :ensemble_version, :score, :label,
			:confidence, :reasoning, :error_message, :latency_ms, :succeeded, :created_at
		)
	`, analyses)
	if err != nil {
		return fmt.Errorf("failed to insert member analyses: %w", err)
	}
	return nil
}

// ListAnalyses returns the scoring history of an article, newest first
func (r *Repository) ListAnalyses(ctx context.Context, articleID uuid.UUID) ([]models.SentimentAnalysis, error) {
	out := []models.SentimentAnalysis{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, article_id, model_id, analysis_type, ensemble_version, score, label,
			confidence, reasoning, error_message, latency_ms, succeeded, created_at
		FROM sentiment_analyses
		WHERE article_id = $1
		ORDER BY created_at DESC
	`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return out, nil
}

// ========== BINARY RESCORING & RETENTION ==========

// ListBinaryScored returns articles whose stored score is exactly -0.5 or 0.5
func (r *Repository) ListBinaryScored(ctx context.Context, limit int) ([]uuid.UUID, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM articles
		WHERE sentiment_score IN (-0.5, 0.5) AND NOT is_archived
	`); err != nil {
		return nil, 0, fmt.Errorf("failed to count binary scores: %w", err)
	}

	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM articles
		WHERE sentiment_score IN (-0.5, 0.5) AND NOT is_archived
		ORDER BY published_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list binary scores: %w", err)
	}
	return ids, total, nil
}

// ArchiveOlderThan flags articles published before cutoff. Rows are kept.
func (r *Repository) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE articles SET is_archived = TRUE, updated_at = NOW()
		WHERE published_at < $1 AND NOT is_archived
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive articles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ========== EMBEDDINGS & SEARCH ==========

// ListMissingEmbeddings returns active articles without a content vector for model
func (r *Repository) ListMissingEmbeddings(ctx context.Context, model string, limit int) ([]models.Article, error) {
	out := []models.Article{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+articleColumns+` FROM articles
		WHERE NOT is_archived
			AND (content_embedding IS NULL OR embedding_model IS DISTINCT FROM $1)
		ORDER BY published_at DESC
		LIMIT $2
	`, model, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles without embeddings: %w", err)
	}
	return out, nil
}

// SaveEmbeddings stores both vectors and the model that produced the content vector
func (r *Repository) SaveEmbeddings(ctx context.Context, id uuid.UUID, content, sentiment []float32, model string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles SET
			content_embedding = $2,
			sentiment_embedding = $3,
			embedding_model = $4,
			updated_at = NOW()
		WHERE id = $1
	`, id, pgvector.NewVector(content), pgvector.NewVector(sentiment), model)
	if err != nil {
		return fmt.Errorf("failed to save embeddings: %w", vectorError(err))
	}
	return nil
}

// vectorError maps pgvector's dimension errors to models.ErrDimensionMismatch:
// a vector sized differently from its column will never be accepted on retry.
func vectorError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	msg := pqErr.Message
	if (strings.HasPrefix(msg, "expected ") && strings.Contains(msg, " dimensions, not ")) ||
		strings.HasPrefix(msg, "different vector dimensions") {
		return fmt.Errorf("%w: %s", models.ErrDimensionMismatch, msg)
	}
	return err
}

// SearchByContentVector ranks active articles embedded with model by cosine
// distance, newest first among equal distances.
func (r *Repository) SearchByContentVector(ctx context.Context, query []float32, model string, k int) ([]models.SimilarArticle, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+articleColumns+`, 1 - (content_embedding <=> $1) AS similarity_score
		FROM articles
		WHERE content_embedding IS NOT NULL
			AND embedding_model = $2
			AND NOT is_archived
		ORDER BY content_embedding <=> $1, published_at DESC
		LIMIT $3
	`, pgvector.NewVector(query), model, k)
	if err != nil {
		return nil, fmt.Errorf("failed to vector search articles: %w", vectorError(err))
	}
	defer rows.Close()

	out := []models.SimilarArticle{}
	for rows.Next() {
		var row struct {
			models.Article
			Similarity float64 `db:"similarity_score"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		out = append(out, models.SimilarArticle{Article: row.Article, Similarity: row.Similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to vector search articles: %w", vectorError(err))
	}
	return out, nil
}

// ContentVector returns the stored content vector of an article, nil when missing
func (r *Repository) ContentVector(ctx context.Context, id uuid.UUID) ([]float32, string, error) {
	var row struct {
		Vec   *pgvector.Vector `db:"content_embedding"`
		Model *string          `db:"embedding_model"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT content_embedding, embedding_model FROM articles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", models.ErrArticleNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read content vector: %w", err)
	}
	if row.Vec == nil || row.Model == nil {
		return nil, "", nil
	}
	return row.Vec.Slice(), *row.Model, nil
}
