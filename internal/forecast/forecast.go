// Package forecast projects the probability of each risk type materializing
// within 7, 14, and 30 days. Build is a pure, deterministic function of its
// inputs; the caller supplies now, and no hidden clock is read.
package forecast

import (
	"fmt"
	"sort"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
	"github.com/harunnryd/mihari/internal/similarity"
)

// Risk types, matching the case outcome types so similar-case outcomes feed
// forecasts of the same kind.
const (
	RiskDelivery = "delivery_risk"
	RiskFinance  = "finance_risk"
	RiskClient   = "client_risk"
	RiskScope    = "scope_risk"
)

var RiskTypes = []string{RiskDelivery, RiskFinance, RiskClient, RiskScope}

type Forecast struct {
	Account                string              `json:"account"`
	Project                string              `json:"project"`
	RiskType               string              `json:"risk_type"`
	Probability7d          float64             `json:"probability_7d"`
	Probability14d         float64             `json:"probability_14d"`
	Probability30d         float64             `json:"probability_30d"`
	ExpectedTimeToRiskDays float64             `json:"expected_time_to_risk_days"` // [2, 60]
	Confidence             float64             `json:"confidence"`
	Drivers                []string            `json:"drivers"`
	SimilarCases           []string            `json:"similar_cases"`
	Evidence               []event.EvidenceRef `json:"evidence_refs"`
	Publishable            bool                `json:"publishable"`
	ComputedAt             time.Time           `json:"computed_at"`
}

// riskSpec wires the baseline weights per risk type. The composite risk score
// contributes through scoreWeight so a broadly troubled project lifts every
// baseline a little.
type riskSpec struct {
	weights     map[string]float64
	scoreWeight float64
}

var riskSpecs = map[string]riskSpec{
	RiskDelivery: {
		weights: map[string]float64{
			signal.KeyBlockersAgeDays:  0.35,
			signal.KeyOpenBlockers:     0.20,
			signal.KeyStageOverdueDays: 0.25,
		},
		scoreWeight: 0.20,
	},
	RiskFinance: {
		weights: map[string]float64{
			signal.KeyBudgetBurnRate: 0.50,
			signal.KeyMarginRisk:     0.30,
		},
		scoreWeight: 0.20,
	},
	RiskClient: {
		weights: map[string]float64{
			signal.KeyWaitingOnClientDays: 0.40,
			signal.KeySentimentTrend:      0.30,
			signal.KeyActivityDrop:        0.30,
		},
	},
	RiskScope: {
		weights: map[string]float64{
			signal.KeyScopeCreepRate:   0.60,
			signal.KeyStageOverdueDays: 0.20,
		},
		scoreWeight: 0.20,
	},
}

type Engine struct {
	cfg        config.ForecastConfig
	thresholds map[string]config.Threshold
}

func NewEngine(cfg config.ForecastConfig, signalsCfg config.SignalsConfig) *Engine {
	if cfg.BaselineWeight <= 0 {
		cfg.BaselineWeight = config.DefaultForecastBaselineWeight
	}
	if cfg.SimilarWeight <= 0 {
		cfg.SimilarWeight = config.DefaultForecastSimilarWeight
	}
	if cfg.GrowthBase <= 0 {
		cfg.GrowthBase = config.DefaultForecastGrowthBase
	}
	if cfg.GrowthSimilarGain <= 0 {
		cfg.GrowthSimilarGain = config.DefaultForecastGrowthSimilarGain
	}
	if len(cfg.Floors) == 0 {
		cfg.Floors = config.DefaultForecastFloors()
	}
	th := signalsCfg.Thresholds
	if len(th) == 0 {
		th = config.DefaultSignalThresholds()
	}
	return &Engine{cfg: cfg, thresholds: th}
}

// Build produces one forecast per risk type.
func (e *Engine) Build(account, project string, signals []signal.Signal, scores []scoring.Score, similarCases []similarity.RankedCase, now time.Time) []Forecast {
	byKey := signal.ByKey(signals)
	norms := signal.NormalizeAll(signals, e.thresholds)
	riskScore := scoring.ByType(scores)[scoring.TypeRisk]

	out := make([]Forecast, 0, len(RiskTypes))
	for _, riskType := range RiskTypes {
		out = append(out, e.buildOne(account, project, riskType, byKey, norms, riskScore, similarCases, now))
	}
	return out
}

func (e *Engine) buildOne(account, project, riskType string, byKey map[string]signal.Signal, norms map[string]float64, riskScore scoring.Score, similarCases []similarity.RankedCase, now time.Time) Forecast {
	spec := riskSpecs[riskType]

	var baseline, weightSum float64
	var drivers []string
	var evidence []event.EvidenceRef
	for _, key := range sortedKeys(spec.weights) {
		w := spec.weights[key]
		sig, ok := byKey[key]
		if !ok {
			continue
		}
		n := norms[key]
		baseline += w * n
		weightSum += w
		if n > 0 {
			drivers = append(drivers, fmt.Sprintf("%s=%.2f (weight %.2f)", key, sig.Value, w))
			evidence = append(evidence, sig.Evidence...)
		}
	}
	if spec.scoreWeight > 0 {
		baseline += spec.scoreWeight * riskScore.Value / 100
		weightSum += spec.scoreWeight
		if riskScore.Value > 0 {
			drivers = append(drivers, fmt.Sprintf("risk_score=%.0f (weight %.2f)", riskScore.Value, spec.scoreWeight))
		}
	}
	if weightSum > 0 {
		baseline /= weightSum
	}

	for _, rule := range e.cfg.Floors {
		if rule.RiskType != riskType {
			continue
		}
		sig, ok := byKey[rule.Signal]
		if !ok || sig.Value < rule.AtLeast {
			continue
		}
		if baseline < rule.Floor {
			baseline = rule.Floor
			drivers = append(drivers, fmt.Sprintf("floor %s>=%.2f -> %.2f", rule.Signal, rule.AtLeast, rule.Floor))
			evidence = append(evidence, sig.Evidence...)
		}
	}

	scs, caseCount, similarRefs := similarCaseScore(riskType, similarCases)
	if scs > 0 {
		drivers = append(drivers, fmt.Sprintf("similar_cases=%.2f over %d", scs, caseCount))
	}

	p7 := clamp01(e.cfg.BaselineWeight*baseline + e.cfg.SimilarWeight*scs)

	// 14d and 30d compound the remaining headroom through a growth factor
	// that rises with the similar-case score; p7 <= p14 <= p30 holds by
	// construction.
	growth := clamp01(e.cfg.GrowthBase + e.cfg.GrowthSimilarGain*scs)
	p14 := p7 + (1-p7)*growth
	p30 := p14 + (1-p14)*growth

	deduped := event.DedupeEvidence(evidence)
	return Forecast{
		Account:                account,
		Project:                project,
		RiskType:               riskType,
		Probability7d:          p7,
		Probability14d:         p14,
		Probability30d:         p30,
		ExpectedTimeToRiskDays: 2 + (1-p30)*58,
		Confidence:             clamp01(0.3 + 0.1*float64(caseCount) + 0.05*float64(len(deduped))),
		Drivers:                drivers,
		SimilarCases:           similarRefs,
		Evidence:               deduped,
		Publishable:            len(deduped) > 0,
		ComputedAt:             now,
	}
}

// similarCaseScore is the similarity-weighted mean severity of matching-type
// outcomes among the similar cases.
func similarCaseScore(riskType string, cases []similarity.RankedCase) (float64, int, []string) {
	var num, den float64
	count := 0
	var refs []string
	for _, c := range cases {
		matched := false
		for _, o := range c.Outcomes {
			if o.Type != riskType {
				continue
			}
			num += c.Score * o.Severity
			den += c.Score
			matched = true
		}
		if matched {
			count++
			refs = append(refs, fmt.Sprintf("%s (%.2f)", c.Project, c.Score))
		}
	}
	if den == 0 {
		return 0, 0, nil
	}
	return clamp01(num / den), count, refs
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
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
