package snapshot

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/mihari/internal/event"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
)

// Outcome risk-materialization types. They mirror the forecast risk types so
// similar-case outcomes can feed forecasts of the same kind.
const (
	OutcomeDelivery = "delivery_risk"
	OutcomeClient   = "client_risk"
	OutcomeFinance  = "finance_risk"
	OutcomeScope    = "scope_risk"
)

// Outcome records a detected risk materialization. Insert-only; the dedupe
// key is derived from content so replaying a day never duplicates rows.
type Outcome struct {
	Account    string              `json:"account"`
	Project    string              `json:"project"`
	Type       string              `json:"outcome_type"`
	OccurredAt time.Time           `json:"occurred_at"`
	Severity   float64             `json:"severity"` // [0, 1]
	Evidence   []event.EvidenceRef `json:"evidence_refs"`
	DedupeKey  string              `json:"dedupe_key"`
}

// Fixed detection cutoffs. These mark materialized risk, not early warning,
// so they sit beyond the signal warn thresholds.
const (
	outcomeBlockersAgeDays  = 5
	outcomeStageOverdueDays = 3
	outcomeRiskScore        = 75
	outcomeBurnRate         = 1.25
	outcomeScopeChanges     = 3
)

// DeriveOutcomes inspects the frozen day plus that day's lifecycle events.
// Threshold combinations catch slow-burn materializations; deal stage
// degradations catch same-day client losses.
func (b *Builder) DeriveOutcomes(snap Snapshot, dayEvents []event.Event, now time.Time) []Outcome {
	var out []Outcome
	signals := signal.ByKey(snap.Signals)
	scores := scoring.ByType(snap.Scores)

	var deliveryDrivers []string
	var deliveryEvidence []event.EvidenceRef
	severity := 0.0
	if s := signals[signal.KeyBlockersAgeDays]; s.Value > outcomeBlockersAgeDays {
		deliveryDrivers = append(deliveryDrivers, fmt.Sprintf("blockers_age=%.0f", s.Value))
		deliveryEvidence = append(deliveryEvidence, s.Evidence...)
		severity = maxf(severity, snap.Normalized[signal.KeyBlockersAgeDays])
	}
	if s := signals[signal.KeyStageOverdueDays]; s.Value > outcomeStageOverdueDays {
		deliveryDrivers = append(deliveryDrivers, fmt.Sprintf("stage_overdue=%.0f", s.Value))
		deliveryEvidence = append(deliveryEvidence, s.Evidence...)
		severity = maxf(severity, snap.Normalized[signal.KeyStageOverdueDays])
	}
	if s := scores[scoring.TypeRisk]; s.Value >= outcomeRiskScore {
		deliveryDrivers = append(deliveryDrivers, fmt.Sprintf("risk=%.0f", s.Value))
		deliveryEvidence = append(deliveryEvidence, s.Evidence...)
		severity = maxf(severity, s.Value/100)
	}
	if len(deliveryDrivers) > 0 {
		out = append(out, b.outcome(snap, OutcomeDelivery, now, severity, deliveryDrivers, deliveryEvidence))
	}

	if s := signals[signal.KeyBudgetBurnRate]; s.Value >= outcomeBurnRate {
		out = append(out, b.outcome(snap, OutcomeFinance, now,
			snap.Normalized[signal.KeyBudgetBurnRate],
			[]string{fmt.Sprintf("budget_burn=%.2f", s.Value)}, s.Evidence))
	}

	if s := signals[signal.KeyScopeCreepRate]; s.Value >= outcomeScopeChanges {
		out = append(out, b.outcome(snap, OutcomeScope, now,
			snap.Normalized[signal.KeyScopeCreepRate],
			[]string{fmt.Sprintf("scope_changes=%.0f", s.Value)}, s.Evidence))
	}

	// Same-day lifecycle: a deal degrading into the lost bucket is a client
	// risk materialization regardless of signal levels.
	for _, ev := range dayEvents {
		if ev.Type != event.TypeDealUpdated {
			continue
		}
		p := ev.Deal()
		if DealStageBucket(p.Stage) == "lost" && DealStageBucket(p.PreviousStage) != "lost" {
			out = append(out, b.outcome(snap, OutcomeClient, now, 0.8,
				[]string{"deal_stage=" + p.Stage}, ev.Evidence))
		}
	}

	return out
}

func (b *Builder) outcome(snap Snapshot, typ string, now time.Time, severity float64, drivers []string, evidence []event.EvidenceRef) Outcome {
	sort.Strings(drivers)
	return Outcome{
		Account:    snap.Account,
		Project:    snap.Project,
		Type:       typ,
		OccurredAt: now,
		Severity:   clamp01(severity),
		Evidence:   event.DedupeEvidence(evidence),
		DedupeKey:  dedupeKey(typ, snap.Project, snap.Date, drivers),
	}
}

func dedupeKey(typ, project, date string, drivers []string) string {
	payload := strings.Join(append([]string{typ, project, date}, drivers...), "|")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(payload)))
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
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
