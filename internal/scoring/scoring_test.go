package scoring

import (
	"testing"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/signal"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func engine() *Engine {
	return NewEngine(config.ScoringConfig{}, config.SignalsConfig{})
}

func sig(key string, value float64, status signal.Status) signal.Signal {
	return signal.Signal{Key: key, Value: value, Status: status, ComputedAt: now}
}

func calmSignals() []signal.Signal {
	return []signal.Signal{
		sig(signal.KeyWaitingOnClientDays, 0, signal.StatusOK),
		sig(signal.KeyResponseTimeAvgHours, 4, signal.StatusOK),
		sig(signal.KeyBlockersAgeDays, 0, signal.StatusOK),
		sig(signal.KeyOpenBlockers, 0, signal.StatusOK),
		sig(signal.KeyStageOverdueDays, 0, signal.StatusOK),
		sig(signal.KeyScopeCreepRate, 0, signal.StatusOK),
		sig(signal.KeyBudgetBurnRate, 0.4, signal.StatusOK),
		sig(signal.KeyMarginRisk, 0.3, signal.StatusOK),
		sig(signal.KeySentimentTrend, 0.5, signal.StatusOK),
		sig(signal.KeyActivityDrop, 0, signal.StatusOK),
		sig(signal.KeyNeedsOpen, 0, signal.StatusOK),
	}
}

func scoreOf(scores []Score, typ string) Score {
	for _, s := range scores {
		if s.Type == typ {
			return s
		}
	}
	return Score{}
}

func TestCompute_RangeAndLevels(t *testing.T) {
	scores := engine().Compute(calmSignals(), signal.NewState(), now)
	if len(scores) != 3 {
		t.Fatalf("scores = %d, want 3", len(scores))
	}
	for _, s := range scores {
		if s.Value < 0 || s.Value > 100 {
			t.Fatalf("%s = %.1f outside [0,100]", s.Type, s.Value)
		}
	}
	risk := scoreOf(scores, TypeRisk)
	if risk.Level != "low" {
		t.Fatalf("calm project risk level = %s, want low", risk.Level)
	}
	health := scoreOf(scores, TypeHealth)
	if health.Level != "good" {
		t.Fatalf("calm project health level = %s, want good", health.Level)
	}
}

// Raising any risk-increasing signal must never lower the risk composite.
func TestCompute_RiskMonotonicity(t *testing.T) {
	e := engine()
	st := signal.NewState()
	baseline := scoreOf(e.Compute(calmSignals(), st, now), TypeRisk).Value

	bumps := map[string]float64{
		signal.KeyWaitingOnClientDays: 5,
		signal.KeyBlockersAgeDays:     6,
		signal.KeyOpenBlockers:        4,
		signal.KeyStageOverdueDays:    4,
		signal.KeyScopeCreepRate:      3,
		signal.KeyBudgetBurnRate:      1.3,
		signal.KeyActivityDrop:        0.9,
	}
	for key, bumped := range bumps {
		signals := calmSignals()
		for i := range signals {
			if signals[i].Key == key {
				signals[i].Value = bumped
				signals[i].Status = signal.StatusCritical
			}
		}
		got := scoreOf(e.Compute(signals, st, now), TypeRisk).Value
		if got < baseline {
			t.Fatalf("raising %s lowered risk: %.2f -> %.2f", key, baseline, got)
		}
	}
}

func TestCompute_FactorsExplainScore(t *testing.T) {
	signals := calmSignals()
	for i := range signals {
		if signals[i].Key == signal.KeyBudgetBurnRate {
			signals[i].Value = 1.25
			signals[i].Status = signal.StatusCritical
		}
	}
	risk := scoreOf(engine().Compute(signals, signal.NewState(), now), TypeRisk)
	found := false
	for _, f := range risk.Factors {
		if f.Signal == signal.KeyBudgetBurnRate {
			found = true
			if f.Normalized != 1 {
				t.Fatalf("burn 1.25 normalized = %.2f, want 1 (beyond critical)", f.Normalized)
			}
			if f.Contribution != f.Weight*f.Normalized {
				t.Fatal("contribution must equal weight * normalized")
			}
		}
	}
	if !found {
		t.Fatal("budget_burn_rate factor missing from risk score")
	}
}

func TestCompute_UpsellFollowsNeedsAndSentiment(t *testing.T) {
	e := engine()
	cold := e.Compute(calmSignals(), signal.NewState(), now)

	warmSignals := calmSignals()
	for i := range warmSignals {
		switch warmSignals[i].Key {
		case signal.KeyNeedsOpen:
			warmSignals[i].Value = 3
		case signal.KeySentimentTrend:
			warmSignals[i].Value = 0.8
		}
	}
	st := signal.NewState()
	st.Pipeline = 50000
	warm := e.Compute(warmSignals, st, now)

	if scoreOf(warm, TypeUpsell).Value <= scoreOf(cold, TypeUpsell).Value {
		t.Fatal("open needs and warm sentiment should raise upsell likelihood")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	e := engine()
	st := signal.NewState()
	a := e.Compute(calmSignals(), st, now)
	b := e.Compute(calmSignals(), st, now)
	for i := range a {
		if a[i].Value != b[i].Value || len(a[i].Factors) != len(b[i].Factors) {
			t.Fatalf("score %s differs across identical calls", a[i].Type)
		}
		for j := range a[i].Factors {
			if a[i].Factors[j] != b[i].Factors[j] {
				t.Fatalf("factor order unstable for %s", a[i].Type)
			}
		}
	}
}
