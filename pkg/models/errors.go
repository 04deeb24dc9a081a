package models

import "errors"

var (
	ErrSourceUnavailable     = errors.New("news source unavailable")
	ErrInvalidArticle        = errors.New("invalid article")
	ErrMemberScoringFailure  = errors.New("ensemble member scoring failed")
	ErrEnsembleFailure       = errors.New("all ensemble members failed")
	ErrEmbeddingFailure      = errors.New("embedding generation failed")
	ErrInsufficientPriceData = errors.New("insufficient price data")
	ErrDimensionMismatch     = errors.New("embedding dimension mismatch")
	ErrArticleNotFound       = errors.New("article not found")
	ErrNotProcessed          = errors.New("article not processed")
	ErrNoTicker              = errors.New("article has no resolvable ticker")
)
