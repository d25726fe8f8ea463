package signal

import (
	"time"

	"github.com/harunnryd/mihari/internal/config"
	"github.com/harunnryd/mihari/internal/event"
)

// Deriver turns a folded state into the canonical signal set. Thresholds come
// from config so product tuning never requires a code change.
type Deriver struct {
	Thresholds  map[string]config.Threshold
	MaxEvidence int
}

func NewDeriver(cfg config.SignalsConfig) *Deriver {
	th := cfg.Thresholds
	if len(th) == 0 {
		th = config.DefaultSignalThresholds()
	}
	return &Deriver{
		Thresholds:  th,
		MaxEvidence: config.IntOrDefault(cfg.MaxEvidencePerSignal, config.DefaultSignalsMaxEvidence),
	}
}

// Derive is a pure function of (state, now).
func (d *Deriver) Derive(st State, now time.Time) []Signal {
	mk := func(key string, value float64, concerns ...string) Signal {
		return Signal{
			Key:        key,
			Value:      value,
			Status:     d.classify(key, value),
			Evidence:   d.cap(st.evidence(concerns...)),
			ComputedAt: now,
		}
	}

	waiting := 0.0
	if st.AwaitingClientSince != nil {
		waiting = daysBetween(*st.AwaitingClientSince, now)
	}

	respAvg := 0.0
	if st.RespCount > 0 {
		respAvg = st.RespSumHours / float64(st.RespCount)
	}

	blockersAge := 0.0
	for _, since := range st.OpenBlockers {
		if age := daysBetween(since, now); age > blockersAge {
			blockersAge = age
		}
	}

	overdue := 0.0
	if st.StageDueAt != nil && now.After(*st.StageDueAt) {
		overdue = daysBetween(*st.StageDueAt, now)
	}

	scopeRate := 0.0
	weekAgo := now.AddDate(0, 0, -7)
	for _, t := range st.ScopeChanges {
		if t.After(weekAgo) {
			scopeRate++
		}
	}

	burn := 0.0
	if st.PlannedBudget > 0 {
		burn = st.CostSum / st.PlannedBudget
	}

	margin := 0.0
	if st.IncomeSum > 0 {
		margin = st.CostSum / st.IncomeSum
	}

	needsOpen := float64(st.NeedCount - st.OfferCount)
	if needsOpen < 0 {
		needsOpen = 0
	}

	return []Signal{
		mk(KeyWaitingOnClientDays, waiting, concernWaiting, concernMessages),
		mk(KeyResponseTimeAvgHours, respAvg, concernMessages),
		mk(KeyBlockersAgeDays, blockersAge, concernBlockers),
		mk(KeyOpenBlockers, float64(len(st.OpenBlockers)), concernBlockers),
		mk(KeyStageOverdueDays, overdue, concernStage),
		mk(KeyScopeCreepRate, scopeRate, concernScope),
		mk(KeyBudgetBurnRate, burn, concernFinance),
		mk(KeyMarginRisk, margin, concernFinance),
		mk(KeySentimentTrend, st.SentimentAvg, concernMessages),
		mk(KeyActivityDrop, activityDrop(st, now), concernMessages, concernStage),
		mk(KeyNeedsOpen, needsOpen, concernNeeds),
	}
}

func (d *Deriver) classify(key string, value float64) Status {
	th, ok := d.Thresholds[key]
	if !ok {
		return StatusOK
	}
	if th.Inverted {
		switch {
		case value <= th.Critical:
			return StatusCritical
		case value <= th.Warn:
			return StatusWarn
		}
		return StatusOK
	}
	switch {
	case value >= th.Critical:
		return StatusCritical
	case value >= th.Warn:
		return StatusWarn
	}
	return StatusOK
}

func (d *Deriver) cap(refs []event.EvidenceRef) []event.EvidenceRef {
	if d.MaxEvidence > 0 && len(refs) > d.MaxEvidence {
		return refs[:d.MaxEvidence]
	}
	return refs
}

// activityDrop compares the trailing 7 days of activity against the 7 days
// before that. 0 means no drop, 1 means activity stopped entirely.
func activityDrop(st State, now time.Time) float64 {
	recent, previous := 0, 0
	for i := 0; i < 7; i++ {
		recent += st.Daily[dayKey(now.AddDate(0, 0, -i))]
		previous += st.Daily[dayKey(now.AddDate(0, 0, -7-i))]
	}
	if previous == 0 {
		return 0
	}
	drop := 1 - float64(recent)/float64(previous)
	if drop < 0 {
		return 0
	}
	return drop
}

func daysBetween(from, to time.Time) float64 {
	if to.Before(from) {
		return 0
	}
	return to.Sub(from).Hours() / 24
}
