// Package scoring folds signals into named 0-100 composite scores using
// explicit, overridable weight tables. It is a pure function of its inputs.
package scoring

import (
	"sort"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/signal"
)

const (
	TypeRisk   = "risk"
	TypeHealth = "project_health"
	TypeUpsell = "upsell_likelihood"
)

// Factor records one signal's contribution to a composite for explainability.
type Factor struct {
	Signal       string  `json:"signal"`
	Value        float64 `json:"value"`
	Normalized   float64 `json:"normalized"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type Score struct {
	Type       string              `json:"score_type"`
	Value      float64             `json:"value"` // [0, 100]
	Level      string              `json:"level"`
	Factors    []Factor            `json:"factors"`
	Evidence   []event.EvidenceRef `json:"evidence_refs"`
	ComputedAt time.Time           `json:"computed_at"`
}

// ByType indexes scores for rule lookups.
func ByType(scores []Score) map[string]Score {
	m := make(map[string]Score, len(scores))
	for _, s := range scores {
		m[s.Type] = s
	}
	return m
}

type Engine struct {
	cfg        config.ScoringConfig
	thresholds map[string]config.Threshold
}

func NewEngine(cfg config.ScoringConfig, signalsCfg config.SignalsConfig) *Engine {
	if len(cfg.RiskWeights) == 0 {
		cfg.RiskWeights = config.DefaultRiskWeights()
	}
	if len(cfg.HealthWeights) == 0 {
		cfg.HealthWeights = config.DefaultHealthWeights()
	}
	if len(cfg.UpsellWeights) == 0 {
		cfg.UpsellWeights = config.DefaultUpsellWeights()
	}
	if cfg.WarnLevel <= 0 {
		cfg.WarnLevel = config.DefaultScoringWarnLevel
	}
	if cfg.CriticalLevel <= 0 {
		cfg.CriticalLevel = config.DefaultScoringCriticalLevel
	}
	th := signalsCfg.Thresholds
	if len(th) == 0 {
		th = config.DefaultSignalThresholds()
	}
	return &Engine{cfg: cfg, thresholds: th}
}

// Compute derives the composite set. Weights are non-negative and applied to
// monotone normalized values, so raising any risk-increasing signal can never
// lower the risk composite.
func (e *Engine) Compute(signals []signal.Signal, st signal.State, now time.Time) []Score {
	byKey := signal.ByKey(signals)
	norms := signal.NormalizeAll(signals, e.thresholds)

	risk := e.weighted(byKey, norms, e.cfg.RiskWeights, now)
	risk.Type = TypeRisk
	risk.Level = e.riskLevel(risk.Value)

	health := e.weighted(byKey, norms, e.cfg.HealthWeights, now)
	health.Type = TypeHealth
	health.Value = 100 - health.Value
	health.Level = healthLevel(health.Value, e.cfg)

	upsell := e.upsell(byKey, st, now)

	return []Score{risk, health, upsell}
}

func (e *Engine) weighted(byKey map[string]signal.Signal, norms map[string]float64, weights map[string]float64, now time.Time) Score {
	var total, weightSum float64
	var factors []Factor
	var evidence []event.EvidenceRef

	for _, key := range sortedKeys(weights) {
		w := weights[key]
		if w <= 0 {
			continue
		}
		sig, ok := byKey[key]
		if !ok {
			continue
		}
		n := norms[key]
		weightSum += w
		total += w * n
		factors = append(factors, Factor{
			Signal:       key,
			Value:        sig.Value,
			Normalized:   n,
			Weight:       w,
			Contribution: w * n,
		})
		if sig.Status != signal.StatusOK {
			evidence = append(evidence, sig.Evidence...)
		}
	}

	value := 0.0
	if weightSum > 0 {
		value = 100 * total / weightSum
	}
	return Score{
		Value:      clamp100(value),
		Factors:    factors,
		Evidence:   event.DedupeEvidence(evidence),
		ComputedAt: now,
	}
}

// upsell uses positive orientation: open needs, warm sentiment, and a live
// pipeline push the score up; an activity drop pulls it down.
func (e *Engine) upsell(byKey map[string]signal.Signal, st signal.State, now time.Time) Score {
	var total, weightSum float64
	var factors []Factor
	var evidence []event.EvidenceRef

	for _, key := range sortedKeys(e.cfg.UpsellWeights) {
		w := e.cfg.UpsellWeights[key]
		if w <= 0 {
			continue
		}
		sig, ok := byKey[key]
		if !ok {
			continue
		}
		var n float64
		switch key {
		case signal.KeyNeedsOpen:
			n = clamp01(sig.Value / 4)
		case signal.KeySentimentTrend:
			n = clamp01((sig.Value + 1) / 2)
		case signal.KeyActivityDrop:
			n = clamp01(1 - sig.Value)
		default:
			n = clamp01(sig.Value)
		}
		weightSum += w
		total += w * n
		factors = append(factors, Factor{Signal: key, Value: sig.Value, Normalized: n, Weight: w, Contribution: w * n})
		evidence = append(evidence, sig.Evidence...)
	}

	value := 0.0
	if weightSum > 0 {
		value = 100 * total / weightSum
	}
	// a live pipeline amount is a mild amplifier, never a driver on its own
	if st.Pipeline > 0 && value > 0 {
		value = clamp100(value * 1.1)
	}

	return Score{
		Type:       TypeUpsell,
		Value:      clamp100(value),
		Level:      e.riskLevel(value),
		Factors:    factors,
		Evidence:   event.DedupeEvidence(evidence),
		ComputedAt: now,
	}
}

func (e *Engine) riskLevel(v float64) string {
	switch {
	case v >= e.cfg.CriticalLevel:
		return "high"
	case v >= e.cfg.WarnLevel:
		return "medium"
	}
	return "low"
}

func healthLevel(v float64, cfg config.ScoringConfig) string {
	switch {
	case v <= 100-cfg.CriticalLevel:
		return "poor"
	case v <= 100-cfg.WarnLevel:
		return "fair"
	}
	return "good"
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

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
