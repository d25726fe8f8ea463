// Package recommend rule-matches signals, scores, and forecasts into gated,
// deduplicated action candidates with a drafted next step.
package recommend

import (
	"time"

	"github.com/harunnryd/mihari/internal/event"
)

// Recommendation categories, a fixed catalogue.
const (
	CategoryWaitingOnClient = "waiting_on_client"
	CategoryScopeCreep      = "scope_creep_change_request"
	CategoryDeliveryRisk    = "delivery_risk"
	CategoryFinanceRisk     = "finance_risk"
	CategoryUpsell          = "upsell_opportunity"
	CategoryWinback         = "winback"
)

// Status lifecycle. done and dismissed are terminal: a later refresh matching
// the same dedupe key never resets them.
const (
	StatusNew          = "new"
	StatusAcknowledged = "acknowledged"
	StatusDone         = "done"
	StatusDismissed    = "dismissed"
)

// ValidStatus reports whether s is an accepted status value.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusDone, StatusDismissed:
		return true
	}
	return false
}

// TerminalStatus reports whether s is sticky.
func TerminalStatus(s string) bool {
	return s == StatusDone || s == StatusDismissed
}

// Gate visibility values and reason codes.
const (
	GateVisible = "visible"
	GateHidden  = "hidden"

	ReasonTooFewEvidence  = "too_few_evidence"
	ReasonMissingPrimary  = "missing_primary_source"
	ReasonQualityBelowMin = "quality_below_minimum"
)

type Recommendation struct {
	Account           string              `json:"account"`
	Project           string              `json:"project"`
	DedupeKey         string              `json:"dedupe_key"`
	Category          string              `json:"category"`
	Priority          int                 `json:"priority"` // 1 (urgent) .. 5 (low)
	Status            string              `json:"status"`
	EvidenceCount     int                 `json:"evidence_count"`
	EvidenceQuality   float64             `json:"evidence_quality_score"`
	GateStatus        string              `json:"evidence_gate_status"`
	GateReason        string              `json:"gate_reason,omitempty"`
	SuggestedTemplate string              `json:"suggested_template"`
	DraftSource       string              `json:"draft_source"`
	SignalValues      map[string]float64  `json:"signal_snapshot"`
	ForecastValues    map[string]float64  `json:"forecast_snapshot"`
	Evidence          []event.EvidenceRef `json:"evidence_refs"`
	ComputedAt        time.Time           `json:"computed_at"`
}
