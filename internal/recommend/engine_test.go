package recommend

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/draft"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/forecast"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
)

var base = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

func ref(kind string, pk int64) event.EvidenceRef {
	return event.EvidenceRef{Kind: kind, SourceTable: kind + "s", SourcePK: strconv.FormatInt(pk, 10)}
}

func sig(key string, value float64, refs ...event.EvidenceRef) signal.Signal {
	return signal.Signal{Key: key, Value: value, Status: signal.StatusWarn, Evidence: refs, ComputedAt: base}
}

func waitingInput(refs ...event.EvidenceRef) Input {
	return Input{
		Account: "acme",
		Project: "proj-1",
		Signals: []signal.Signal{sig(signal.KeyWaitingOnClientDays, 4, refs...)},
		Forecasts: []forecast.Forecast{{
			Project:       "proj-1",
			RiskType:      forecast.RiskClient,
			Probability7d: 0.5,
			Publishable:   true,
		}},
		Now: base,
	}
}

func TestGenerateWaitingOnClient(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	recs := eng.Generate(context.Background(), waitingInput(ref("message", 10)))
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, CategoryWaitingOnClient, rec.Category)
	assert.Equal(t, StatusNew, rec.Status)
	assert.Equal(t, GateVisible, rec.GateStatus)
	assert.Equal(t, 3, rec.Priority)
	assert.Equal(t, 1, rec.EvidenceCount)
	assert.Contains(t, rec.SuggestedTemplate, "proj-1")
	assert.Contains(t, rec.SuggestedTemplate, "4 days")
	assert.Equal(t, "template", rec.DraftSource)
}

func TestGenerateNothingWhenQuiet(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	recs := eng.Generate(context.Background(), Input{
		Account: "acme",
		Project: "proj-1",
		Signals: []signal.Signal{sig(signal.KeyWaitingOnClientDays, 1)},
		Now:     base,
	})
	assert.Empty(t, recs)
}

func TestUnpublishableForecastNeverTriggers(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	in := waitingInput(ref("message", 10))
	in.Forecasts[0].Publishable = false

	recs := eng.Generate(context.Background(), in)
	assert.Empty(t, recs)
}

func TestGateMissingPrimarySource(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	// Waiting-on-client requires a message, issue, or deal reference.
	recs := eng.Generate(context.Background(), waitingInput(ref("finance_entry", 7)))
	require.Len(t, recs, 1)
	assert.Equal(t, GateHidden, recs[0].GateStatus)
	assert.Equal(t, ReasonMissingPrimary, recs[0].GateReason)
	assert.NotEmpty(t, recs[0].SuggestedTemplate)
}

func TestGateTooFewEvidence(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{MinEvidence: 2}, nil)

	recs := eng.Generate(context.Background(), waitingInput(ref("message", 10)))
	require.Len(t, recs, 1)
	assert.Equal(t, GateHidden, recs[0].GateStatus)
	assert.Equal(t, ReasonTooFewEvidence, recs[0].GateReason)
}

func TestGateQualityBelowMinimum(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{MinQuality: 0.9}, nil)

	recs := eng.Generate(context.Background(), waitingInput(ref("message", 10)))
	require.Len(t, recs, 1)
	assert.Equal(t, GateHidden, recs[0].GateStatus)
	assert.Equal(t, ReasonQualityBelowMin, recs[0].GateReason)
}

func TestQualityRewardsDiversity(t *testing.T) {
	narrow := quality([]event.EvidenceRef{ref("message", 1), ref("message", 2)})
	diverse := quality([]event.EvidenceRef{ref("message", 1), ref("issue", 2)})
	assert.Greater(t, diverse, narrow)
	assert.Zero(t, quality(nil))
}

func TestDedupeKeyStable(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	first := eng.Generate(context.Background(), waitingInput(ref("message", 10)))
	second := eng.Generate(context.Background(), waitingInput(ref("message", 10)))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].DedupeKey, second[0].DedupeKey)

	// Sub-tenth jitter in a trigger value maps to the same key.
	jittered := waitingInput(ref("message", 10))
	jittered.Signals[0].Value = 4.04
	third := eng.Generate(context.Background(), jittered)
	require.Len(t, third, 1)
	assert.Equal(t, first[0].DedupeKey, third[0].DedupeKey)

	other := waitingInput(ref("message", 10))
	other.Project = "proj-2"
	fourth := eng.Generate(context.Background(), other)
	require.Len(t, fourth, 1)
	assert.NotEqual(t, first[0].DedupeKey, fourth[0].DedupeKey)
}

func TestScopeCreepRule(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	recs := eng.Generate(context.Background(), Input{
		Account: "acme",
		Project: "proj-1",
		Signals: []signal.Signal{sig(signal.KeyScopeCreepRate, 2, ref("scope_change", 3))},
		Forecasts: []forecast.Forecast{{
			RiskType:       forecast.RiskScope,
			Probability14d: 0.45,
			Publishable:    true,
		}},
		Now: base,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, CategoryScopeCreep, recs[0].Category)
	assert.Equal(t, GateVisible, recs[0].GateStatus)
}

func TestWinbackNeedsLostDealAndSilence(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	in := Input{
		Account:   "acme",
		Project:   "proj-1",
		DealStage: "lost",
		Signals:   []signal.Signal{sig(signal.KeyActivityDrop, 0.8, ref("message", 4))},
		Now:       base,
	}
	recs := eng.Generate(context.Background(), in)
	require.Len(t, recs, 1)
	assert.Equal(t, CategoryWinback, recs[0].Category)

	in.DealStage = "open"
	assert.Empty(t, eng.Generate(context.Background(), in))
}

func TestUpsellRule(t *testing.T) {
	eng := NewEngine(config.RecommendConfig{}, nil)

	recs := eng.Generate(context.Background(), Input{
		Account: "acme",
		Project: "proj-1",
		Signals: []signal.Signal{
			sig(signal.KeyNeedsOpen, 2, ref("message", 5)),
			sig(signal.KeySentimentTrend, 0.4),
		},
		Scores: []scoring.Score{{Type: scoring.TypeUpsell, Value: 70, ComputedAt: base}},
		Now:    base,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, CategoryUpsell, recs[0].Category)
	assert.Equal(t, GateVisible, recs[0].GateStatus)
}

type countingDrafter struct{ calls int }

func (c *countingDrafter) Name() string { return "counting" }

func (c *countingDrafter) Draft(_ context.Context, req draft.Request) (string, error) {
	c.calls++
	return "model draft for " + req.Key, nil
}

func TestDraftBudgetFallsBackToTemplate(t *testing.T) {
	inner := &countingDrafter{}
	eng := NewEngine(config.RecommendConfig{}, draft.NewBudgeted(inner, 1))

	in := waitingInput(ref("message", 10))
	in.Signals = append(in.Signals, sig(signal.KeyOpenBlockers, 4, ref("issue", 6)))
	in.Forecasts = append(in.Forecasts, forecast.Forecast{RiskType: forecast.RiskDelivery, Probability7d: 0.5, Publishable: true})

	recs := eng.Generate(context.Background(), in)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, inner.calls)

	sources := map[string]string{}
	for _, r := range recs {
		sources[r.Category] = r.DraftSource
	}
	// Equal priority resolves by category name, so delivery_risk wins the
	// single model slot and waiting_on_client gets the template.
	assert.Equal(t, "counting", sources[CategoryDeliveryRisk])
	assert.Equal(t, "template", sources[CategoryWaitingOnClient])
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, ValidStatus(StatusAcknowledged))
	assert.False(t, ValidStatus("archived"))
	assert.True(t, TerminalStatus(StatusDone))
	assert.True(t, TerminalStatus(StatusDismissed))
	assert.False(t, TerminalStatus(StatusNew))
}
