package signal

import (
	"time"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/event"
)

// StateVersion guards the persisted shape. A decoded state with any other
// version fails structural validation instead of silently resetting.
const StateVersion = 1

const (
	maxOpenBlockers   = 50
	maxScopeChanges   = 20
	maxEvidencePerKey = 5
	activityRetention = 30 // days of daily counters kept
)

// Evidence concern buckets inside State.
const (
	concernWaiting  = "waiting"
	concernBlockers = "blockers"
	concernStage    = "stage"
	concernScope    = "scope"
	concernFinance  = "finance"
	concernMessages = "messages"
	concernNeeds    = "needs"
	concernDeal     = "deal"
)

// State holds the minimal sufficient statistics for one project. It is built
// solely by folding events and is fully reconstructible from an empty value
// by replaying the log.
type State struct {
	Version int `json:"version"`

	// communication
	LastClientMsgAt     time.Time  `json:"last_client_msg_at"`
	LastTeamMsgAt       time.Time  `json:"last_team_msg_at"`
	AwaitingClientSince *time.Time `json:"awaiting_client_since,omitempty"`
	PendingReplySince   *time.Time `json:"pending_reply_since,omitempty"`
	RespCount           int        `json:"resp_count"`
	RespSumHours        float64    `json:"resp_sum_hours"`
	SentimentAvg        float64    `json:"sentiment_avg"`
	SentimentCount      int        `json:"sentiment_count"`

	// delivery
	OpenBlockers map[string]time.Time `json:"open_blockers"` // task id -> blocked at
	BlockedTotal int                  `json:"blocked_total"`
	StageName    string               `json:"stage_name,omitempty"`
	StageDueAt   *time.Time           `json:"stage_due_at,omitempty"`

	// scope and sales
	ScopeChanges []time.Time `json:"scope_changes,omitempty"`
	NeedCount    int         `json:"need_count"`
	OfferCount   int         `json:"offer_count"`
	DealStage    string      `json:"deal_stage,omitempty"`
	DealAmount   float64     `json:"deal_amount"`
	Pipeline     float64     `json:"pipeline_amount"`

	// finance
	CostSum       float64 `json:"cost_sum"`
	IncomeSum     float64 `json:"income_sum"`
	PlannedBudget float64 `json:"planned_budget"`

	// activity, date (UTC, 2006-01-02) -> event count, pruned past retention
	Daily       map[string]int `json:"daily"`
	LastEventAt time.Time      `json:"last_event_at"`

	// bounded evidence per concern bucket
	Evidence map[string][]event.EvidenceRef `json:"evidence"`
}

// NewState returns an empty state at the current version.
func NewState() State {
	return State{
		Version:      StateVersion,
		OpenBlockers: map[string]time.Time{},
		Daily:        map[string]int{},
		Evidence:     map[string][]event.EvidenceRef{},
	}
}

// Validate checks structural integrity of a persisted state. A corrupted row
// must fail fast, not reset.
func (s *State) Validate() error {
	if s.Version != StateVersion {
		return errors.CorruptedState("unsupported state version")
	}
	if s.RespCount < 0 || s.SentimentCount < 0 || s.BlockedTotal < 0 ||
		s.NeedCount < 0 || s.OfferCount < 0 {
		return errors.CorruptedState("negative counter")
	}
	if s.RespSumHours < 0 {
		return errors.CorruptedState("negative response sum")
	}
	for day, n := range s.Daily {
		if n < 0 {
			return errors.CorruptedState("negative daily count for " + day)
		}
	}
	return nil
}

// normalize repairs nil maps after JSON decoding so the fold can assume them.
func (s *State) normalize() {
	if s.OpenBlockers == nil {
		s.OpenBlockers = map[string]time.Time{}
	}
	if s.Daily == nil {
		s.Daily = map[string]int{}
	}
	if s.Evidence == nil {
		s.Evidence = map[string][]event.EvidenceRef{}
	}
}

func (s *State) addEvidence(concern string, refs []event.EvidenceRef) {
	if len(refs) == 0 {
		return
	}
	merged := event.DedupeEvidence(append(s.Evidence[concern], refs...))
	if len(merged) > maxEvidencePerKey {
		merged = merged[len(merged)-maxEvidencePerKey:]
	}
	s.Evidence[concern] = merged
}

func (s *State) evidence(concerns ...string) []event.EvidenceRef {
	var out []event.EvidenceRef
	for _, c := range concerns {
		out = append(out, s.Evidence[c]...)
	}
	return event.DedupeEvidence(out)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
