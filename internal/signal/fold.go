package signal

import (
	"time"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/event"
)

// sentimentAlpha weights the newest message in the running sentiment average.
const sentimentAlpha = 0.3

// Apply folds events into prior and returns the new state plus the id of the
// last event consumed. The fold is pure: identical inputs yield identical
// output, so recomputing from an old cursor after a crash is equivalent to the
// lost computation. Events must arrive strictly ordered by id; out-of-order
// input is rejected rather than silently reordered.
func Apply(prior State, events []event.Event, now time.Time) (State, int64, error) {
	if err := prior.Validate(); err != nil {
		return State{}, 0, err
	}

	st := prior.clone()
	st.normalize()

	var cursor int64
	for _, ev := range events {
		if ev.ID <= cursor {
			return State{}, 0, errors.InvalidInput("events not strictly ordered by id")
		}
		cursor = ev.ID
		st.fold(ev)
	}
	st.pruneDaily(now)
	return st, cursor, nil
}

func (s *State) fold(ev event.Event) {
	if !event.Known(ev.Type) {
		// Forward compatibility: unknown types pass through untouched.
		return
	}

	ts := ev.OccurredAt
	s.Daily[dayKey(ts)]++
	if ts.After(s.LastEventAt) {
		s.LastEventAt = ts
	}

	switch ev.Type {
	case event.TypeMessageSent:
		s.foldMessage(ev, ts)

	case event.TypeDecisionMade:
		s.addEvidence(concernMessages, ev.Evidence)

	case event.TypeAgreementCreated:
		p := ev.Agreement()
		s.IncomeSum += p.Amount
		s.addEvidence(concernFinance, ev.Evidence)

	case event.TypeStageStarted:
		p := ev.Stage()
		s.StageName = p.Stage
		s.StageDueAt = nil
		if due, err := time.Parse(time.RFC3339, p.DueAt); err == nil {
			s.StageDueAt = &due
		}
		if p.PlannedBudget > 0 {
			s.PlannedBudget = p.PlannedBudget
		}
		if p.ApprovalPending && s.AwaitingClientSince == nil {
			t := ts
			s.AwaitingClientSince = &t
			s.addEvidence(concernWaiting, ev.Evidence)
		}
		s.addEvidence(concernStage, ev.Evidence)

	case event.TypeStageCompleted:
		s.StageDueAt = nil
		s.addEvidence(concernStage, ev.Evidence)

	case event.TypeTaskCreated:
		// Counted as activity only.

	case event.TypeTaskBlocked:
		p := ev.Task()
		id := p.TaskID
		if id == "" {
			id = ev.OccurredAt.Format(time.RFC3339Nano)
		}
		if len(s.OpenBlockers) < maxOpenBlockers {
			if _, exists := s.OpenBlockers[id]; !exists {
				s.OpenBlockers[id] = ts
			}
		}
		s.BlockedTotal++
		s.addEvidence(concernBlockers, ev.Evidence)

	case event.TypeBlockerResolved:
		delete(s.OpenBlockers, ev.Task().TaskID)

	case event.TypeDealUpdated:
		p := ev.Deal()
		s.DealStage = p.Stage
		if p.Amount > 0 {
			s.DealAmount = p.Amount
			s.Pipeline = p.Amount
		}
		s.addEvidence(concernDeal, ev.Evidence)

	case event.TypeFinanceEntryCreated:
		p := ev.FinanceEntry()
		switch p.Kind {
		case "income":
			s.IncomeSum += p.Amount
		default:
			s.CostSum += p.Amount
		}
		if p.PlannedBudget > 0 {
			s.PlannedBudget = p.PlannedBudget
		}
		s.addEvidence(concernFinance, ev.Evidence)

	case event.TypeRiskDetected:
		s.addEvidence(concernStage, ev.Evidence)

	case event.TypeScopeChangeRequested:
		s.ScopeChanges = append(s.ScopeChanges, ts)
		if len(s.ScopeChanges) > maxScopeChanges {
			s.ScopeChanges = s.ScopeChanges[len(s.ScopeChanges)-maxScopeChanges:]
		}
		s.addEvidence(concernScope, ev.Evidence)

	case event.TypeNeedDetected:
		s.NeedCount++
		s.addEvidence(concernNeeds, ev.Evidence)

	case event.TypeOfferCreated:
		s.OfferCount++
		if s.AwaitingClientSince == nil {
			t := ts
			s.AwaitingClientSince = &t
		}
		s.addEvidence(concernWaiting, ev.Evidence)
		s.addEvidence(concernNeeds, ev.Evidence)

	case event.TypeApprovalApproved:
		s.AwaitingClientSince = nil
	}
}

func (s *State) foldMessage(ev event.Event, ts time.Time) {
	p := ev.Message()
	inbound := p.Direction == "inbound" || p.SenderRole == "client"

	if inbound {
		s.LastClientMsgAt = ts
		s.AwaitingClientSince = nil
		if s.PendingReplySince == nil {
			t := ts
			s.PendingReplySince = &t
		}
	} else {
		s.LastTeamMsgAt = ts
		if s.PendingReplySince != nil && ts.After(*s.PendingReplySince) {
			s.RespCount++
			s.RespSumHours += ts.Sub(*s.PendingReplySince).Hours()
			s.PendingReplySince = nil
		}
	}

	if p.Sentiment != 0 {
		if s.SentimentCount == 0 {
			s.SentimentAvg = p.Sentiment
		} else {
			s.SentimentAvg = sentimentAlpha*p.Sentiment + (1-sentimentAlpha)*s.SentimentAvg
		}
		s.SentimentCount++
	}

	s.addEvidence(concernMessages, ev.Evidence)
	if inbound {
		s.addEvidence(concernWaiting, ev.Evidence)
	}
}

func (s *State) pruneDaily(now time.Time) {
	cutoff := dayKey(now.AddDate(0, 0, -activityRetention))
	for day := range s.Daily {
		if day < cutoff {
			delete(s.Daily, day)
		}
	}
}

// clone deep-copies the mutable containers so Apply never aliases its input.
func (s State) clone() State {
	out := s
	out.OpenBlockers = make(map[string]time.Time, len(s.OpenBlockers))
	for k, v := range s.OpenBlockers {
		out.OpenBlockers[k] = v
	}
	out.Daily = make(map[string]int, len(s.Daily))
	for k, v := range s.Daily {
		out.Daily[k] = v
	}
	out.Evidence = make(map[string][]event.EvidenceRef, len(s.Evidence))
	for k, v := range s.Evidence {
		out.Evidence[k] = append([]event.EvidenceRef(nil), v...)
	}
	out.ScopeChanges = append([]time.Time(nil), s.ScopeChanges...)
	if s.AwaitingClientSince != nil {
		t := *s.AwaitingClientSince
		out.AwaitingClientSince = &t
	}
	if s.PendingReplySince != nil {
		t := *s.PendingReplySince
		out.PendingReplySince = &t
	}
	if s.StageDueAt != nil {
		t := *s.StageDueAt
		out.StageDueAt = &t
	}
	return out
}
