package sentiment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
)

// Member is one independent sentiment model of the ensemble
type Member interface {
	Name() string
	Classify(ctx context.Context, in *models.ScoringInput) (*models.Classification, error)
}

// Policy holds the combination constants and the per-member call limits
type Policy struct {
	DisagreementPenalty float64
	FallbackCeiling     float64
	MemberTimeout       time.Duration
	JoinTimeout         time.Duration
	MemberMaxAttempts   int
	MaxTextChars        int
	RetryBaseDelay      time.Duration
}

// Ensemble runs its members concurrently and combines their outputs
type Ensemble struct {
	members []Member
	policy  Policy
	version string
}

// NewEnsemble creates an ensemble over members. Nil members are skipped.
func NewEnsemble(policy Policy, members ...Member) *Ensemble {
	active := make([]Member, 0, len(members))
	for _, m := range members {
		if m != nil {
			active = append(active, m)
		}
	}
	if policy.RetryBaseDelay <= 0 {
		policy.RetryBaseDelay = 500 * time.Millisecond
	}
	e := &Ensemble{members: active, policy: policy}
	e.version = e.computeVersion()
	return e
}

// Version identifies the configuration; at most one final record exists per article and version
func (e *Ensemble) Version() string {
	return e.version
}

// Members returns the model ids in member order
func (e *Ensemble) Members() []string {
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = m.Name()
	}
	return names
}

func (e *Ensemble) computeVersion() string {
	h := sha256.New()
	for _, name := range e.Members() {
		fmt.Fprintf(h, "member=%s;", name)
	}
	fmt.Fprintf(h, "penalty=%.4f;ceiling=%.4f;chars=%d", e.policy.DisagreementPenalty, e.policy.FallbackCeiling, e.policy.MaxTextChars)
	return "ens-" + hex.EncodeToString(h.Sum(nil))[:12]
}

// Only returns an ensemble over the members named, keeping this policy.
// The version changes with the member set.
func (e *Ensemble) Only(names ...string) *Ensemble {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var members []Member
	for _, m := range e.members {
		if want[m.Name()] {
			members = append(members, m)
		}
	}
	return NewEnsemble(e.policy, members...)
}

type memberOutcome struct {
	index  int
	result models.MemberResult
}

// Score runs every member concurrently, joins them with the join timeout and
// combines the successful ones. It returns models.ErrEnsembleFailure, together
// with the member results, when no member succeeded.
func (e *Ensemble) Score(ctx context.Context, in *models.ScoringInput) (*models.EnsembleResult, error) {
	prepared := *in
	prepared.Text = Preprocess(in.Text, e.policy.MaxTextChars)

	results := make([]models.MemberResult, len(e.members))
	for i, m := range e.members {
		results[i] = models.MemberResult{Model: m.Name(), Err: fmt.Errorf("%w: no result before join timeout", models.ErrMemberScoringFailure)}
	}

	joinCtx, cancel := context.WithTimeout(ctx, e.policy.JoinTimeout)
	defer cancel()

	// Buffered so late members never block after the join gives up
	outcomes := make(chan memberOutcome, len(e.members))
	for i, m := range e.members {
		go func(i int, m Member) {
			outcomes <- memberOutcome{index: i, result: e.runMember(joinCtx, m, &prepared)}
		}(i, m)
	}

collect:
	for pending := len(e.members); pending > 0; pending-- {
		select {
		case o := <-outcomes:
			results[o.index] = o.result
		case <-joinCtx.Done():
			break collect
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range results {
		if !r.Succeeded {
			logger.Warn("ensemble member failed",
				zap.String("model", r.Model),
				zap.Int("attempts", r.Attempts),
				zap.Error(r.Err),
			)
		}
	}

	res, err := Combine(results, e.policy)
	if res != nil {
		res.Version = e.version
	}
	return res, err
}

func (e *Ensemble) runMember(ctx context.Context, m Member, in *models.ScoringInput) models.MemberResult {
	out := models.MemberResult{Model: m.Name()}
	start := time.Now()

	policy := retry.Policy{
		Name:        m.Name(),
		MaxAttempts: e.policy.MemberMaxAttempts,
		BaseDelay:   e.policy.RetryBaseDelay,
		MaxDelay:    e.policy.MemberTimeout,
	}

	var cls *models.Classification
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.policy.MemberTimeout)
		defer cancel()

		c, err := m.Classify(callCtx, in)
		if err != nil {
			return err
		}
		if c == nil || math.IsNaN(c.Score) || c.Score < -1 || c.Score > 1 || math.IsNaN(c.Confidence) {
			return retry.Stop(fmt.Errorf("invalid classification %+v", c))
		}
		cls = c
		return nil
	})

	out.Attempts = attempts
	out.Latency = time.Since(start)
	if err != nil {
		out.Err = fmt.Errorf("%w: %s: %v", models.ErrMemberScoringFailure, m.Name(), err)
		return out
	}

	out.Succeeded = true
	out.Score = cls.Score
	out.Confidence = clamp(cls.Confidence, 0, 1)
	out.Reasoning = cls.Reasoning
	return out
}

// Combine applies the combination rule to member results.
//
// Two or more successes: weights are the members' confidences normalized to 1,
// the score is the weighted mean, and the confidence is the weighted mean
// confidence scaled by max(0, 1 - penalty*spread), where spread is the largest
// pairwise score difference. One success: its score is used and its confidence
// is capped at the fallback ceiling. No success: ErrEnsembleFailure.
func Combine(results []models.MemberResult, p Policy) (*models.EnsembleResult, error) {
	res := &models.EnsembleResult{Members: results}

	var ok []models.MemberResult
	for _, r := range results {
		if r.Succeeded {
			ok = append(ok, r)
		}
	}

	switch len(ok) {
	case 0:
		errs := make([]error, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				errs = append(errs, r.Err)
			}
		}
		return res, fmt.Errorf("%w: %w", models.ErrEnsembleFailure, errors.Join(errs...))

	case 1:
		res.Score = clamp(ok[0].Score, -1, 1)
		res.Confidence = math.Min(clamp(ok[0].Confidence, 0, 1), p.FallbackCeiling)
		res.Degraded = len(results) > 1

	default:
		var confSum float64
		for _, r := range ok {
			confSum += r.Confidence
		}

		minScore, maxScore := ok[0].Score, ok[0].Score
		var score, conf float64
		for _, r := range ok {
			w := 1 / float64(len(ok))
			if confSum > 0 {
				w = r.Confidence / confSum
			}
			score += w * r.Score
			conf += w * r.Confidence
			minScore = math.Min(minScore, r.Score)
			maxScore = math.Max(maxScore, r.Score)
		}

		spread := maxScore - minScore
		res.Score = clamp(score, -1, 1)
		res.Confidence = clamp(conf*math.Max(0, 1-p.DisagreementPenalty*spread), 0, 1)
		res.Degraded = len(ok) < len(results)

		if len(ok) == 2 {
			agreement := Agreement(ok[0].Score, ok[1].Score)
			res.Agreement = &agreement
		}
	}

	res.Label = Label(res.Score)
	res.Interpretation = Interpret(res.Score, res.Agreement)
	return res, nil
}
