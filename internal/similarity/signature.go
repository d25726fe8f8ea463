// Package similarity fingerprints a project's recent behavior as a numeric
// vector, an event-sequence bigram set, and a small categorical context, then
// ranks cross-project similarity inside one account.
package similarity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
	"github.com/harunnryd/mihari/internal/snapshot"
)

// VectorLen is the fixed feature vector length; every slot is bounded [0, 1].
const VectorLen = 12

var Windows = []int{7, 14, 30}

// Context is the small categorical fingerprint compared field-by-field.
type Context struct {
	BudgetBucket string `json:"budget_bucket"` // none | small | mid | large
	ProjectType  string `json:"project_type"`  // delivery | sales | support
	DealBucket   string `json:"deal_bucket"`
}

// Signature is one row per (project, window); rebuilds overwrite.
type Signature struct {
	Account    string    `json:"account"`
	Project    string    `json:"project"`
	WindowDays int       `json:"window_days"`
	Vector     []float64 `json:"vector"`
	Bigrams    []string  `json:"event_bigrams"` // sorted, unique
	Context    Context   `json:"context"`
	ComputedAt time.Time `json:"computed_at"`
}

// Store is the persistence surface the engine needs. The sqlite store
// implements it.
type Store interface {
	ListSnapshotRange(ctx context.Context, account, project, fromDate, toDate string) ([]snapshot.Snapshot, error)
	ListEventsBetween(ctx context.Context, account, project string, from, to time.Time) ([]event.Event, error)
	GetSignature(ctx context.Context, account, project string, windowDays int) (*Signature, error)
	UpsertSignature(ctx context.Context, sig Signature) error
	ListSignatures(ctx context.Context, account string, windowDays int) ([]Signature, error)
	ListOutcomes(ctx context.Context, account, project string) ([]snapshot.Outcome, error)
}

type Engine struct {
	store Store
	cfg   config.SimilarityConfig
}

func NewEngine(store Store, cfg config.SimilarityConfig) *Engine {
	if cfg.VectorWeight <= 0 && cfg.BigramWeight <= 0 && cfg.ContextWeight <= 0 {
		cfg.VectorWeight = config.DefaultSimilarityVectorWeight
		cfg.BigramWeight = config.DefaultSimilarityBigramWeight
		cfg.ContextWeight = config.DefaultSimilarityContextWeight
	}
	cfg.TopK = config.IntOrDefault(cfg.TopK, config.DefaultSimilarityTopK)
	return &Engine{store: store, cfg: cfg}
}

func validWindow(days int) bool {
	for _, w := range Windows {
		if w == days {
			return true
		}
	}
	return false
}

// BuildSignature folds the snapshot window and the window's event log into a
// signature and persists it, overwriting the previous row for the window.
func (e *Engine) BuildSignature(ctx context.Context, account, project string, windowDays int, now time.Time) (*Signature, error) {
	if !validWindow(windowDays) {
		return nil, errors.MalformedWindow(fmt.Sprintf("window %d days", windowDays))
	}

	from := now.AddDate(0, 0, -windowDays)
	snaps, err := e.store.ListSnapshotRange(ctx, account, project,
		from.UTC().Format(snapshot.DateFormat), now.UTC().Format(snapshot.DateFormat))
	if err != nil {
		return nil, err
	}
	events, err := e.store.ListEventsBetween(ctx, account, project, from, now)
	if err != nil {
		return nil, err
	}

	sig := Signature{
		Account:    account,
		Project:    project,
		WindowDays: windowDays,
		Vector:     buildVector(snaps),
		Bigrams:    buildBigrams(events),
		Context:    buildContext(snaps, events),
		ComputedAt: now,
	}
	if err := e.store.UpsertSignature(ctx, sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// vector slot layout; window averages except the delta slot.
var vectorSignals = []string{
	signal.KeyWaitingOnClientDays,
	signal.KeyBlockersAgeDays,
	signal.KeyOpenBlockers,
	signal.KeyStageOverdueDays,
	signal.KeyScopeCreepRate,
	signal.KeyBudgetBurnRate,
	signal.KeySentimentTrend,
	signal.KeyActivityDrop,
}

func buildVector(snaps []snapshot.Snapshot) []float64 {
	v := make([]float64, VectorLen)
	if len(snaps) == 0 {
		return v
	}

	for i, key := range vectorSignals {
		sum := 0.0
		for _, s := range snaps {
			sum += s.Normalized[key]
		}
		v[i] = clamp01(sum / float64(len(snaps)))
	}

	riskSum, healthSum, eventSum := 0.0, 0.0, 0.0
	for _, s := range snaps {
		scores := scoring.ByType(s.Scores)
		riskSum += scores[scoring.TypeRisk].Value
		healthSum += scores[scoring.TypeHealth].Value
		eventSum += float64(s.Aggregates.EventCount)
	}
	n := float64(len(snaps))
	v[8] = clamp01(riskSum / n / 100)
	v[9] = clamp01(healthSum / n / 100)

	// risk trajectory over the window, recentred so 0.5 means flat
	firstRisk := scoring.ByType(snaps[0].Scores)[scoring.TypeRisk].Value
	lastRisk := scoring.ByType(snaps[len(snaps)-1].Scores)[scoring.TypeRisk].Value
	v[10] = clamp01(((lastRisk-firstRisk)/100 + 1) / 2)

	v[11] = clamp01(eventSum / n / 20)
	return v
}

func buildBigrams(events []event.Event) []string {
	seen := map[string]struct{}{}
	for i := 1; i < len(events); i++ {
		b := string(events[i-1].Type) + ">" + string(events[i].Type)
		seen[b] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func buildContext(snaps []snapshot.Snapshot, events []event.Event) Context {
	c := Context{BudgetBucket: "none", ProjectType: "support", DealBucket: "none"}

	if len(snaps) > 0 {
		last := snaps[len(snaps)-1]
		amount := last.Aggregates.Pipeline
		if amount == 0 {
			amount = last.Aggregates.PlannedBudget
		}
		switch {
		case amount <= 0:
			c.BudgetBucket = "none"
		case amount < 10_000:
			c.BudgetBucket = "small"
		case amount < 100_000:
			c.BudgetBucket = "mid"
		default:
			c.BudgetBucket = "large"
		}
		c.DealBucket = snapshot.DealStageBucket(last.Aggregates.DealStage)
	}

	delivery, sales := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case event.TypeTaskCreated, event.TypeTaskBlocked, event.TypeBlockerResolved,
			event.TypeStageStarted, event.TypeStageCompleted:
			delivery++
		case event.TypeDealUpdated, event.TypeOfferCreated, event.TypeNeedDetected,
			event.TypeAgreementCreated:
			sales++
		}
	}
	switch {
	case delivery == 0 && sales == 0:
		c.ProjectType = "support"
	case delivery >= sales:
		c.ProjectType = "delivery"
	default:
		c.ProjectType = "sales"
	}
	return c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
