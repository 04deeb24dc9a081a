package sentiment

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

type fakeMember struct {
	err   error
	name  string
	delay time.Duration
	score float64
	conf  float64
	calls atomic.Int32
	// failures before the member starts succeeding
	failFirst int32
}

func (f *fakeMember) Name() string { return f.name }

func (f *fakeMember) Classify(ctx context.Context, in *models.ScoringInput) (*models.Classification, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failFirst {
		return nil, errors.New("503 service unavailable")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.Classification{Score: f.score, Confidence: f.conf}, nil
}

func testPolicy() Policy {
	return Policy{
		DisagreementPenalty: 0.75,
		FallbackCeiling:     0.8,
		MemberTimeout:       200 * time.Millisecond,
		JoinTimeout:         500 * time.Millisecond,
		MemberMaxAttempts:   3,
		MaxTextChars:        512,
		RetryBaseDelay:      time.Millisecond,
	}
}

func ok(model string, score, conf float64) models.MemberResult {
	return models.MemberResult{Model: model, Score: score, Confidence: conf, Succeeded: true}
}

func failed(model string) models.MemberResult {
	return models.MemberResult{Model: model, Err: models.ErrMemberScoringFailure}
}

func TestCombine_BothMembers(t *testing.T) {
	res, err := Combine([]models.MemberResult{ok("a", 0.8, 0.9), ok("b", 0.2, 0.5)}, testPolicy())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Score, 0.2)
	assert.LessOrEqual(t, res.Score, 0.8)
	assert.Greater(t, res.Score, 0.5, "weighted toward the more confident member")

	assert.LessOrEqual(t, res.Confidence, 0.5)
	assert.Less(t, res.Confidence, (0.9+0.5)/2)

	require.NotNil(t, res.Agreement)
	assert.InDelta(t, 0.7, *res.Agreement, 1e-9)
	assert.False(t, res.Degraded)
	assert.Equal(t, models.LabelStronglyPositive, res.Label)
}

func TestCombine_IdenticalMembersKeepConfidence(t *testing.T) {
	res, err := Combine([]models.MemberResult{ok("a", 0.3, 0.6), ok("b", 0.3, 0.6)}, testPolicy())
	require.NoError(t, err)

	assert.InDelta(t, 0.3, res.Score, 1e-9)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}

func TestCombine_DegradedFallback(t *testing.T) {
	res, err := Combine([]models.MemberResult{ok("a", 0.6, 0.95), failed("b")}, testPolicy())
	require.NoError(t, err)

	assert.Equal(t, 0.6, res.Score)
	assert.Less(t, res.Confidence, 0.95)
	assert.LessOrEqual(t, res.Confidence, 0.8)
	assert.True(t, res.Degraded)
	assert.Nil(t, res.Agreement)
	assert.Equal(t, "Very positive sentiment with low confidence", res.Interpretation)
}

func TestCombine_AllFailed(t *testing.T) {
	res, err := Combine([]models.MemberResult{failed("a"), failed("b")}, testPolicy())
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrEnsembleFailure)
	assert.ErrorIs(t, err, models.ErrMemberScoringFailure)
	require.NotNil(t, res)
	assert.Len(t, res.Members, 2)
}

func TestCombine_ScoreDomain(t *testing.T) {
	inputs := [][2]float64{{1, 1}, {-1, 1}, {0, 0}, {0.99, 0.01}, {-0.4, 0.3}}
	for _, a := range inputs {
		for _, b := range inputs {
			res, err := Combine([]models.MemberResult{ok("a", a[0], a[1]), ok("b", b[0], b[1])}, testPolicy())
			require.NoError(t, err)
			assert.True(t, res.Score >= -1 && res.Score <= 1, "score %v", res.Score)
			assert.True(t, res.Confidence >= 0 && res.Confidence <= 1, "confidence %v", res.Confidence)
		}
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		score float64
		want  models.SentimentLabel
	}{
		{1, models.LabelStronglyPositive},
		{0.5, models.LabelStronglyPositive},
		{0.49, models.LabelPositive},
		{0.1, models.LabelPositive},
		{0.09, models.LabelNeutral},
		{0, models.LabelNeutral},
		{-0.09, models.LabelNeutral},
		{-0.1, models.LabelNegative},
		{-0.49, models.LabelNegative},
		{-0.5, models.LabelStronglyNegative},
		{-1, models.LabelStronglyNegative},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.score), "score %v", tt.score)
	}
}

func TestInterpret(t *testing.T) {
	high, moderate, low := 0.9, 0.7, 0.5

	assert.Equal(t, "Very positive sentiment with high confidence", Interpret(0.7, &high))
	assert.Equal(t, "Positive sentiment with moderate confidence", Interpret(0.35, &moderate))
	assert.Equal(t, "Neutral sentiment with low confidence", Interpret(0.05, &high))
	assert.Equal(t, "Negative sentiment with low confidence", Interpret(-0.2, &low))
	assert.Equal(t, "Very negative sentiment with moderate confidence", Interpret(-0.5, &moderate))
}

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "a b c", Preprocess("  a\n\tb   c ", 0))
	assert.Equal(t, "abc", Preprocess("abcdef", 3))
	assert.Len(t, []rune(Preprocess(strings.Repeat("é", 2000), 512)), 512)
}

func TestEnsemble_Score(t *testing.T) {
	logger.InitNop()

	local := &fakeMember{name: "local", score: 0.8, conf: 0.9}
	hosted := &fakeMember{name: "hosted", score: 0.2, conf: 0.5}

	e := NewEnsemble(testPolicy(), local, hosted)
	res, err := e.Score(context.Background(), &models.ScoringInput{Text: "text"})
	require.NoError(t, err)

	assert.Len(t, res.Members, 2)
	assert.Equal(t, e.Version(), res.Version)
	assert.Equal(t, 2, res.SucceededMembers())
}

func TestEnsemble_SlowMemberDoesNotBlock(t *testing.T) {
	logger.InitNop()

	local := &fakeMember{name: "local", score: 0.6, conf: 0.95}
	slow := &fakeMember{name: "hosted", score: -0.9, conf: 1, delay: 5 * time.Second}

	policy := testPolicy()
	policy.MemberMaxAttempts = 1

	start := time.Now()
	res, err := NewEnsemble(policy, local, slow).Score(context.Background(), &models.ScoringInput{Text: "text"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0.6, res.Score)
	assert.Less(t, res.Confidence, 0.95)
	assert.True(t, res.Degraded)
	assert.False(t, res.Members[1].Succeeded)
}

func TestEnsemble_CanceledContext(t *testing.T) {
	logger.InitNop()

	local := &fakeMember{name: "local", score: 0.6, conf: 0.9, delay: 5 * time.Second}
	hosted := &fakeMember{name: "hosted", score: 0.2, conf: 0.5, delay: 5 * time.Second}

	policy := testPolicy()
	policy.MemberTimeout = 2 * time.Second
	policy.JoinTimeout = 3 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res, err := NewEnsemble(policy, local, hosted).Score(ctx, &models.ScoringInput{Text: "text"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnsemble_RetriesTransientFailures(t *testing.T) {
	logger.InitNop()

	flaky := &fakeMember{name: "hosted", score: 0.4, conf: 0.7, failFirst: 2}
	res, err := NewEnsemble(testPolicy(), flaky).Score(context.Background(), &models.ScoringInput{Text: "text"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, 3, res.Members[0].Attempts)
	assert.True(t, res.Members[0].Succeeded)
}

func TestEnsemble_AllMembersFail(t *testing.T) {
	logger.InitNop()

	a := &fakeMember{name: "a", err: errors.New("boom")}
	b := &fakeMember{name: "b", err: errors.New("boom")}

	res, err := NewEnsemble(testPolicy(), a, b).Score(context.Background(), &models.ScoringInput{Text: "text"})
	assert.ErrorIs(t, err, models.ErrEnsembleFailure)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.SucceededMembers())
}

func TestEnsemble_VersionDependsOnConfig(t *testing.T) {
	a := &fakeMember{name: "a"}
	b := &fakeMember{name: "b"}

	v1 := NewEnsemble(testPolicy(), a, b).Version()
	v2 := NewEnsemble(testPolicy(), a, b).Version()
	assert.Equal(t, v1, v2)

	p := testPolicy()
	p.DisagreementPenalty = 0.5
	assert.NotEqual(t, v1, NewEnsemble(p, a, b).Version())
	assert.NotEqual(t, v1, NewEnsemble(testPolicy(), a, b).Only("a").Version())
}
