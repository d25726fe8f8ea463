package signal

import (
	"time"

	"github.com/harunnryd/mihari/internal/event"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusWarn     Status = "warn"
	StatusCritical Status = "critical"
)

// Canonical signal keys produced by Derive.
const (
	KeyWaitingOnClientDays  = "waiting_on_client_days"
	KeyResponseTimeAvgHours = "response_time_avg_hours"
	KeyBlockersAgeDays      = "blockers_age_days"
	KeyOpenBlockers         = "open_blockers"
	KeyStageOverdueDays     = "stage_overdue_days"
	KeyScopeCreepRate       = "scope_creep_rate"
	KeyBudgetBurnRate       = "budget_burn_rate"
	KeyMarginRisk           = "margin_risk"
	KeySentimentTrend       = "sentiment_trend"
	KeyActivityDrop         = "activity_drop"
	KeyNeedsOpen            = "needs_open"
)

// Signal is one derived metric with a threshold classification and the
// evidence that substantiates it.
type Signal struct {
	Key        string              `json:"key"`
	Value      float64             `json:"value"`
	Status     Status              `json:"status"`
	Evidence   []event.EvidenceRef `json:"evidence_refs"`
	ComputedAt time.Time           `json:"computed_at"`
}

// ByKey indexes a signal slice for rule lookups. Later duplicates win, which
// cannot happen for Derive output but keeps the helper total.
func ByKey(signals []Signal) map[string]Signal {
	m := make(map[string]Signal, len(signals))
	for _, s := range signals {
		m[s.Key] = s
	}
	return m
}
