package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func builder() *Builder {
	return NewBuilder(config.SignalsConfig{})
}

func sig(key string, value float64, status signal.Status, refs ...event.EvidenceRef) signal.Signal {
	return signal.Signal{Key: key, Value: value, Status: status, Evidence: refs, ComputedAt: day}
}

func TestBuild_NormalizedDirectionAware(t *testing.T) {
	signals := []signal.Signal{
		sig(signal.KeyBlockersAgeDays, 5, signal.StatusCritical),  // at critical
		sig(signal.KeySentimentTrend, -0.5, signal.StatusCritical), // inverted, at critical
		sig(signal.KeySentimentTrend+"_exotic", 1, signal.StatusWarn), // no threshold entry
	}
	snap := builder().Build("acme", "p1", day, signals, nil, signal.NewState())

	if snap.Normalized[signal.KeyBlockersAgeDays] != 1 {
		t.Fatalf("blockers at critical normalized = %.2f, want 1", snap.Normalized[signal.KeyBlockersAgeDays])
	}
	if snap.Normalized[signal.KeySentimentTrend] != 1 {
		t.Fatalf("sentiment -0.5 normalized = %.2f, want 1 (inverted)", snap.Normalized[signal.KeySentimentTrend])
	}
	if snap.Normalized[signal.KeySentimentTrend+"_exotic"] != 0.6 {
		t.Fatalf("status fallback normalized = %.2f, want 0.6 for warn", snap.Normalized[signal.KeySentimentTrend+"_exotic"])
	}
}

func TestDeriveOutcomes_ThresholdCombos(t *testing.T) {
	b := builder()
	signals := []signal.Signal{
		sig(signal.KeyBlockersAgeDays, 6, signal.StatusCritical, event.EvidenceRef{Kind: "issue", SourceTable: "issues", SourcePK: "T-9"}),
		sig(signal.KeyBudgetBurnRate, 1.3, signal.StatusCritical, event.EvidenceRef{Kind: "document", SourceTable: "documents", SourcePK: "inv-2"}),
	}
	scores := []scoring.Score{{Type: scoring.TypeRisk, Value: 40, ComputedAt: day}}
	snap := b.Build("acme", "p1", day, signals, scores, signal.NewState())

	outcomes := b.DeriveOutcomes(snap, nil, day)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want delivery + finance", len(outcomes))
	}
	types := map[string]bool{}
	for _, o := range outcomes {
		types[o.Type] = true
		if o.DedupeKey == "" {
			t.Fatal("outcome missing dedupe key")
		}
		if o.Severity <= 0 || o.Severity > 1 {
			t.Fatalf("severity %.2f outside (0,1]", o.Severity)
		}
	}
	if !types[OutcomeDelivery] || !types[OutcomeFinance] {
		t.Fatalf("types = %v, want delivery_risk and finance_risk", types)
	}
}

func TestDeriveOutcomes_DealDegraded(t *testing.T) {
	b := builder()
	snap := b.Build("acme", "p1", day, nil, nil, signal.NewState())
	raw, _ := json.Marshal(event.DealPayload{Stage: "lost", PreviousStage: "negotiation"})
	dayEvents := []event.Event{{
		ID: 7, Type: event.TypeDealUpdated, OccurredAt: day, Payload: raw,
		Evidence: []event.EvidenceRef{{Kind: "deal", SourceTable: "deals", SourcePK: "d-1"}},
	}}

	outcomes := b.DeriveOutcomes(snap, dayEvents, day)
	if len(outcomes) != 1 || outcomes[0].Type != OutcomeClient {
		t.Fatalf("outcomes = %+v, want one client_risk", outcomes)
	}
	if len(outcomes[0].Evidence) != 1 {
		t.Fatal("client outcome should carry the deal evidence")
	}

	// a deal already lost yesterday does not re-materialize
	raw2, _ := json.Marshal(event.DealPayload{Stage: "frozen", PreviousStage: "lost"})
	dayEvents[0].Payload = raw2
	if got := b.DeriveOutcomes(snap, dayEvents, day); len(got) != 0 {
		t.Fatalf("outcomes = %d, want 0 for lost->frozen", len(got))
	}
}

func TestDeriveOutcomes_StableDedupeKey(t *testing.T) {
	b := builder()
	signals := []signal.Signal{sig(signal.KeyScopeCreepRate, 3, signal.StatusCritical)}
	snap := b.Build("acme", "p1", day, signals, nil, signal.NewState())

	first := b.DeriveOutcomes(snap, nil, day)
	second := b.DeriveOutcomes(snap, nil, day.Add(3*time.Hour)) // rerun later the same day
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("outcomes = %d/%d, want 1 each", len(first), len(second))
	}
	if first[0].DedupeKey != second[0].DedupeKey {
		t.Fatal("rerun produced a different dedupe key for identical content")
	}
}

func TestDealStageBucket(t *testing.T) {
	cases := map[string]string{
		"":                  "none",
		"Negotiation":       "closing",
		"Closed Won":        "won",
		"lost":              "lost",
		"Frozen - Q3":       "lost",
		"discovery":         "open",
		"Proposal sent":     "closing",
		"customer churned":  "lost",
	}
	for stage, want := range cases {
		if got := DealStageBucket(stage); got != want {
			t.Fatalf("bucket(%q) = %s, want %s", stage, got, want)
		}
	}
}
