package similarity

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/snapshot"
)

// Candidate pairs another project's signature with its recorded outcomes.
type Candidate struct {
	Signature Signature
	Outcomes  []snapshot.Outcome
}

// RankedCase is one similar case with its sub-score breakdown.
type RankedCase struct {
	Project       string             `json:"project"`
	Score         float64            `json:"score"` // [0, 1]
	VectorScore   float64            `json:"vector_score"`
	BigramScore   float64            `json:"bigram_score"`
	ContextScore  float64            `json:"context_score"`
	Breakdown     string             `json:"breakdown"`
	SharedBigrams []string           `json:"shared_bigrams"` // at most 5
	Outcomes      []snapshot.Outcome `json:"outcomes"`
}

const maxSharedBigrams = 5

// Rank scores candidates against source, excluding the source project itself,
// and returns the top K in descending order. Ties keep candidate input order.
func (e *Engine) Rank(source Signature, candidates []Candidate, topK int) []RankedCase {
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	ranked := make([]RankedCase, 0, len(candidates))
	for _, c := range candidates {
		if c.Signature.Project == source.Project {
			continue
		}

		vec := 1 / (1 + euclidean(source.Vector, c.Signature.Vector))
		shared, union := bigramOverlap(source.Bigrams, c.Signature.Bigrams)
		jac := 0.0
		if union > 0 {
			jac = float64(len(shared)) / float64(union)
		}
		ctxScore := contextMatch(source.Context, c.Signature.Context)

		score := clamp01(e.cfg.VectorWeight*vec + e.cfg.BigramWeight*jac + e.cfg.ContextWeight*ctxScore)

		if len(shared) > maxSharedBigrams {
			shared = shared[:maxSharedBigrams]
		}
		ranked = append(ranked, RankedCase{
			Project:       c.Signature.Project,
			Score:         score,
			VectorScore:   vec,
			BigramScore:   jac,
			ContextScore:  ctxScore,
			Breakdown:     fmt.Sprintf("vector=%.2f bigrams=%.2f context=%.2f -> %.2f", vec, jac, ctxScore, score),
			SharedBigrams: shared,
			Outcomes:      c.Outcomes,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// FindSimilarCases ranks account-scoped candidates against the project's
// 30-day signature, building the source signature lazily when absent.
func (e *Engine) FindSimilarCases(ctx context.Context, account, project string, now time.Time) ([]RankedCase, error) {
	const window = 30

	source, err := e.store.GetSignature(ctx, account, project, window)
	if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if source == nil {
		source, err = e.BuildSignature(ctx, account, project, window, now)
		if err != nil {
			return nil, err
		}
	}

	sigs, err := e.store.ListSignatures(ctx, account, window)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(sigs))
	for _, sig := range sigs {
		if sig.Project == project {
			continue
		}
		outcomes, err := e.store.ListOutcomes(ctx, account, sig.Project)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Signature: sig, Outcomes: outcomes})
	}

	return e.Rank(*source, candidates, e.cfg.TopK), nil
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	// length mismatch counts the missing tail as maximal distance
	for i := n; i < len(a); i++ {
		sum += a[i] * a[i]
	}
	for i := n; i < len(b); i++ {
		sum += b[i] * b[i]
	}
	return math.Sqrt(sum)
}

// bigramOverlap returns the sorted intersection and the union size.
func bigramOverlap(a, b []string) ([]string, int) {
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	var shared []string
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := setB[s]; dup {
			continue
		}
		setB[s] = struct{}{}
		if _, ok := setA[s]; ok {
			shared = append(shared, s)
		}
	}
	union := len(setA)
	for s := range setB {
		if _, ok := setA[s]; !ok {
			union++
		}
	}
	sort.Strings(shared)
	return shared, union
}

func contextMatch(a, b Context) float64 {
	match := 0.0
	if a.BudgetBucket == b.BudgetBucket {
		match++
	}
	if a.ProjectType == b.ProjectType {
		match++
	}
	if a.DealBucket == b.DealBucket {
		match++
	}
	return match / 3
}
