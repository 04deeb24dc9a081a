package embeddings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// Repository is the permanent embedding store behind pkg/embeddings.Client.
// Rows are keyed by (text hash, model) and never expire.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new Postgres embedding repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the stored embedding and bumps its usage counters
func (r *Repository) Get(ctx context.Context, textHash, model string) ([]float32, bool) {
	var vec pgvector.Vector
	err := r.db.QueryRowxContext(ctx, `
		UPDATE embedding_cache
		SET last_used_at = NOW(), use_count = use_count + 1
		WHERE text_hash = $1 AND model = $2
		RETURNING embedding
	`, textHash, model).Scan(&vec)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn("embedding cache lookup failed", zap.Error(err))
		}
		return nil, false
	}
	return vec.Slice(), true
}

// Set stores an embedding; an existing row only has its usage bumped
func (r *Repository) Set(ctx context.Context, textHash string, embedding []float32, model string, textLength int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (text_hash, model, embedding, text_length, created_at, last_used_at, use_count)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		ON CONFLICT (text_hash, model) DO UPDATE SET
			last_used_at = NOW(),
			use_count = embedding_cache.use_count + 1
	`, textHash, model, pgvector.NewVector(embedding), textLength)
	if err != nil {
		return fmt.Errorf("failed to cache embedding in Postgres: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings for model
func (r *Repository) Count(ctx context.Context, model string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM embedding_cache WHERE model = $1`, model); err != nil {
		return 0, fmt.Errorf("failed to get cache stats: %w", err)
	}
	return count, nil
}
