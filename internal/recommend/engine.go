package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/draft"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/forecast"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
)

// Trigger cutoffs for the catalogue rules.
const (
	waitingDaysTrigger  = 2.0
	clientProbTrigger   = 0.45
	scopeChangesTrigger = 2.0
	scopeProbTrigger    = 0.40
	openBlockersTrigger = 3.0
	blockersAgeTrigger  = 5.0
	deliveryProbTrigger = 0.45
	burnRateTrigger     = 1.1
	financeProbTrigger  = 0.45
	upsellScoreTrigger  = 60.0
	activityDropTrigger = 0.5
)

// Input is one project's derived state at recommendation time.
type Input struct {
	Account   string
	Project   string
	Signals   []signal.Signal
	Scores    []scoring.Score
	Forecasts []forecast.Forecast
	DealStage string
	Now       time.Time
}

// Engine matches the fixed catalogue against signals, scores, and forecasts.
// Every emitted candidate carries a stable dedupe key so repeated refreshes
// over unchanged data converge to the same row.
type Engine struct {
	minEvidence int
	minQuality  float64
	drafter     draft.Drafter
	fallback    *draft.Template
}

func NewEngine(cfg config.RecommendConfig, drafter draft.Drafter) *Engine {
	if cfg.MinEvidence <= 0 {
		cfg.MinEvidence = config.DefaultRecommendMinEvidence
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = config.DefaultRecommendMinQuality
	}
	if drafter == nil {
		drafter = draft.NewTemplate()
	}
	return &Engine{
		minEvidence: cfg.MinEvidence,
		minQuality:  cfg.MinQuality,
		drafter:     drafter,
		fallback:    draft.NewTemplate(),
	}
}

// candidate is a matched rule before gating and drafting.
type candidate struct {
	category       string
	requirePrimary bool
	priority       int
	triggers       map[string]float64
	evidence       []event.EvidenceRef
	variables      map[string]string
}

type rule func(Input, map[string]signal.Signal, map[string]scoring.Score, map[string]forecast.Forecast) (candidate, bool)

// Generate evaluates the catalogue in fixed order and returns all matched
// candidates, gated and drafted. Hidden candidates are returned too so the
// store keeps an auditable record of suppressed suggestions.
func (e *Engine) Generate(ctx context.Context, in Input) []Recommendation {
	sigs := signal.ByKey(in.Signals)
	scores := scoring.ByType(in.Scores)
	// Forecasts that failed the evidence gate never feed a rule.
	fcs := make(map[string]forecast.Forecast, len(in.Forecasts))
	for _, f := range in.Forecasts {
		if !f.Publishable {
			continue
		}
		fcs[f.RiskType] = f
	}

	rules := []rule{
		ruleWaitingOnClient,
		ruleScopeCreep,
		ruleDeliveryRisk,
		ruleFinanceRisk,
		ruleUpsell,
		ruleWinback,
	}

	var recs []Recommendation
	vars := make(map[string]map[string]string)
	for _, r := range rules {
		c, ok := r(in, sigs, scores, fcs)
		if !ok {
			continue
		}
		vars[c.category] = c.variables
		rec := Recommendation{
			Account:        in.Account,
			Project:        in.Project,
			DedupeKey:      dedupeKey(c.category, in.Project, c.triggers),
			Category:       c.category,
			Priority:       c.priority,
			Status:         StatusNew,
			SignalValues:   c.triggers,
			ForecastValues: forecastSnapshot(fcs),
			Evidence:       event.DedupeEvidence(c.evidence),
			ComputedAt:     in.Now,
		}
		e.applyGate(&rec, c.requirePrimary)
		recs = append(recs, rec)
	}

	e.draftAll(ctx, in.Project, recs, vars)
	return recs
}

// draftAll fills SuggestedTemplate on every candidate. Visible candidates are
// drafted in priority order against the configured drafter until its budget
// runs out; everything else gets the deterministic template.
func (e *Engine) draftAll(ctx context.Context, project string, recs []Recommendation, vars map[string]map[string]string) {
	order := make([]int, len(recs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := recs[order[a]], recs[order[b]]
		if ra.Priority != rb.Priority {
			return ra.Priority < rb.Priority
		}
		return ra.Category < rb.Category
	})

	for _, i := range order {
		rec := &recs[i]
		req := draft.Request{Key: rec.Category, Project: project, Variables: vars[rec.Category]}

		if rec.GateStatus == GateVisible {
			if text, err := e.drafter.Draft(ctx, req); err == nil {
				rec.SuggestedTemplate = text
				rec.DraftSource = e.drafter.Name()
				continue
			} else {
				slog.Debug("draft fell back to template", "category", rec.Category, "error", err)
			}
		}
		text, err := e.fallback.Draft(ctx, req)
		if err != nil {
			text = "Review " + rec.Category + " on project " + project + "."
		}
		rec.SuggestedTemplate = text
		rec.DraftSource = e.fallback.Name()
	}
}

func ruleWaitingOnClient(in Input, sigs map[string]signal.Signal, _ map[string]scoring.Score, fcs map[string]forecast.Forecast) (candidate, bool) {
	waiting, ok := sigs[signal.KeyWaitingOnClientDays]
	if !ok || waiting.Value < waitingDaysTrigger {
		return candidate{}, false
	}
	client := fcs[forecast.RiskClient]
	if client.Probability7d < clientProbTrigger {
		return candidate{}, false
	}
	evidence := append(append([]event.EvidenceRef{}, waiting.Evidence...), client.Evidence...)
	return candidate{
		category:       CategoryWaitingOnClient,
		requirePrimary: true,
		priority:       priorityFor(client.Probability7d),
		triggers: map[string]float64{
			signal.KeyWaitingOnClientDays: waiting.Value,
			"client_probability_7d":       client.Probability7d,
		},
		evidence: evidence,
		variables: map[string]string{
			"waiting_days": formatDays(waiting.Value),
		},
	}, true
}

func ruleScopeCreep(in Input, sigs map[string]signal.Signal, _ map[string]scoring.Score, fcs map[string]forecast.Forecast) (candidate, bool) {
	scope, ok := sigs[signal.KeyScopeCreepRate]
	if !ok || scope.Value < scopeChangesTrigger {
		return candidate{}, false
	}
	fc := fcs[forecast.RiskScope]
	if fc.Probability14d < scopeProbTrigger {
		return candidate{}, false
	}
	return candidate{
		category:       CategoryScopeCreep,
		requirePrimary: false,
		priority:       priorityFor(fc.Probability14d),
		triggers: map[string]float64{
			signal.KeyScopeCreepRate: scope.Value,
			"scope_probability_14d":  fc.Probability14d,
		},
		evidence: append(append([]event.EvidenceRef{}, scope.Evidence...), fc.Evidence...),
		variables: map[string]string{
			"scope_changes": formatDays(scope.Value),
		},
	}, true
}

func ruleDeliveryRisk(in Input, sigs map[string]signal.Signal, _ map[string]scoring.Score, fcs map[string]forecast.Forecast) (candidate, bool) {
	blockers := sigs[signal.KeyOpenBlockers]
	age := sigs[signal.KeyBlockersAgeDays]
	fc := fcs[forecast.RiskDelivery]
	if blockers.Value < openBlockersTrigger && age.Value < blockersAgeTrigger && fc.Probability7d < deliveryProbTrigger {
		return candidate{}, false
	}
	evidence := append([]event.EvidenceRef{}, blockers.Evidence...)
	evidence = append(evidence, age.Evidence...)
	evidence = append(evidence, fc.Evidence...)
	return candidate{
		category:       CategoryDeliveryRisk,
		requirePrimary: false,
		priority:       priorityFor(maxFloat(fc.Probability7d, blockers.Value/10)),
		triggers: map[string]float64{
			signal.KeyOpenBlockers:    blockers.Value,
			signal.KeyBlockersAgeDays: age.Value,
			"delivery_probability_7d": fc.Probability7d,
		},
		evidence: evidence,
		variables: map[string]string{
			"open_blockers": formatDays(blockers.Value),
			"blockers_age":  formatDays(age.Value),
		},
	}, true
}

func ruleFinanceRisk(in Input, sigs map[string]signal.Signal, _ map[string]scoring.Score, fcs map[string]forecast.Forecast) (candidate, bool) {
	burn := sigs[signal.KeyBudgetBurnRate]
	fc := fcs[forecast.RiskFinance]
	if burn.Value < burnRateTrigger && fc.Probability7d < financeProbTrigger {
		return candidate{}, false
	}
	return candidate{
		category:       CategoryFinanceRisk,
		requirePrimary: false,
		priority:       priorityFor(maxFloat(fc.Probability7d, burn.Value-1)),
		triggers: map[string]float64{
			signal.KeyBudgetBurnRate: burn.Value,
			"finance_probability_7d": fc.Probability7d,
		},
		evidence: append(append([]event.EvidenceRef{}, burn.Evidence...), fc.Evidence...),
		variables: map[string]string{
			"burn_rate": strconv.FormatFloat(burn.Value, 'f', 2, 64) + "x",
		},
	}, true
}

func ruleUpsell(in Input, sigs map[string]signal.Signal, scores map[string]scoring.Score, _ map[string]forecast.Forecast) (candidate, bool) {
	upsell, ok := scores[scoring.TypeUpsell]
	if !ok || upsell.Value < upsellScoreTrigger {
		return candidate{}, false
	}
	needs := sigs[signal.KeyNeedsOpen]
	sentiment := sigs[signal.KeySentimentTrend]
	if needs.Value < 1 || sentiment.Value < 0 {
		return candidate{}, false
	}
	evidence := append([]event.EvidenceRef{}, needs.Evidence...)
	evidence = append(evidence, upsell.Evidence...)
	return candidate{
		category:       CategoryUpsell,
		requirePrimary: true,
		priority:       4,
		triggers: map[string]float64{
			scoring.TypeUpsell:  upsell.Value,
			signal.KeyNeedsOpen: needs.Value,
		},
		evidence: evidence,
		variables: map[string]string{
			"needs_open": formatDays(needs.Value),
		},
	}, true
}

func ruleWinback(in Input, sigs map[string]signal.Signal, _ map[string]scoring.Score, _ map[string]forecast.Forecast) (candidate, bool) {
	if in.DealStage != "lost" {
		return candidate{}, false
	}
	drop := sigs[signal.KeyActivityDrop]
	if drop.Value < activityDropTrigger {
		return candidate{}, false
	}
	return candidate{
		category:       CategoryWinback,
		requirePrimary: true,
		priority:       4,
		triggers: map[string]float64{
			signal.KeyActivityDrop: drop.Value,
		},
		evidence: append([]event.EvidenceRef{}, drop.Evidence...),
		variables: map[string]string{
			"deal_stage": in.DealStage,
		},
	}, true
}

// priorityFor maps the dominant probability onto the 1..5 urgency scale.
func priorityFor(p float64) int {
	switch {
	case p >= 0.7:
		return 1
	case p >= 0.55:
		return 2
	case p >= 0.45:
		return 3
	default:
		return 4
	}
}

// dedupeKey hashes category, project, and the triggering values rounded to
// one decimal. Small jitter in the inputs maps to the same key so the store
// updates in place instead of duplicating.
func dedupeKey(category, project string, triggers map[string]float64) string {
	keys := make([]string, 0, len(triggers))
	for k := range triggers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", category, project)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%.1f", k, triggers[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func forecastSnapshot(fcs map[string]forecast.Forecast) map[string]float64 {
	if len(fcs) == 0 {
		return nil
	}
	m := make(map[string]float64, len(fcs))
	for t, f := range fcs {
		m[t+"_7d"] = f.Probability7d
	}
	return m
}

func formatDays(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
