// Package snapshot freezes one per-day record of a project's signals, scores,
// and aggregates, and derives case outcomes from it. Snapshots are the raw
// material for cross-project similarity and the outcome history behind risk
// forecasts.
package snapshot

import (
	"strings"
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/scoring"
	"github.com/harunnryd/mihari/internal/signal"
)

const DateFormat = "2006-01-02"

// Aggregates are the raw per-day rollups frozen alongside signals and scores.
type Aggregates struct {
	EventCount    int     `json:"event_count"`
	OpenBlockers  int     `json:"open_blockers"`
	CostSum       float64 `json:"cost_sum"`
	IncomeSum     float64 `json:"income_sum"`
	PlannedBudget float64 `json:"planned_budget"`
	Pipeline      float64 `json:"pipeline_amount"`
	DealStage     string  `json:"deal_stage,omitempty"`
}

// Snapshot is immutable per (project, date); recomputing a day overwrites only
// that day's row.
type Snapshot struct {
	Account    string             `json:"account"`
	Project    string             `json:"project"`
	Date       string             `json:"date"`
	Signals    []signal.Signal    `json:"signals"`
	Normalized map[string]float64 `json:"normalized_signals"`
	Scores     []scoring.Score    `json:"scores"`
	Aggregates Aggregates         `json:"aggregates"`
}

type Builder struct {
	thresholds map[string]config.Threshold
}

func NewBuilder(signalsCfg config.SignalsConfig) *Builder {
	th := signalsCfg.Thresholds
	if len(th) == 0 {
		th = config.DefaultSignalThresholds()
	}
	return &Builder{thresholds: th}
}

// Build freezes the day. The normalized map applies the same direction-aware
// transform used by scoring, so snapshot consumers never re-derive it.
func (b *Builder) Build(account, project string, day time.Time, signals []signal.Signal, scores []scoring.Score, st signal.State) Snapshot {
	dayEvents := st.Daily[day.UTC().Format(DateFormat)]
	return Snapshot{
		Account:    account,
		Project:    project,
		Date:       day.UTC().Format(DateFormat),
		Signals:    signals,
		Normalized: signal.NormalizeAll(signals, b.thresholds),
		Scores:     scores,
		Aggregates: Aggregates{
			EventCount:    dayEvents,
			OpenBlockers:  len(st.OpenBlockers),
			CostSum:       st.CostSum,
			IncomeSum:     st.IncomeSum,
			PlannedBudget: st.PlannedBudget,
			Pipeline:      st.Pipeline,
			DealStage:     st.DealStage,
		},
	}
}

// DealStageBucket collapses free-form CRM stage names into a coarse bucket
// used by outcome detection and similarity context.
func DealStageBucket(stage string) string {
	s := strings.ToLower(stage)
	switch {
	case s == "":
		return "none"
	case strings.Contains(s, "lost") || strings.Contains(s, "frozen") ||
		strings.Contains(s, "stall") || strings.Contains(s, "churn"):
		return "lost"
	case strings.Contains(s, "won") || strings.Contains(s, "closed"):
		return "won"
	case strings.Contains(s, "negotiat") || strings.Contains(s, "propos") ||
		strings.Contains(s, "offer") || strings.Contains(s, "contract"):
		return "closing"
	}
	return "open"
}
