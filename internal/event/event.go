package event

import (
	"encoding/json"
	"time"
)

type Type string

// Event vocabulary. Types outside this set are accepted and ignored by the
// aggregator so newer producers never break older pipelines.
const (
	TypeMessageSent          Type = "message_sent"
	TypeDecisionMade         Type = "decision_made"
	TypeAgreementCreated     Type = "agreement_created"
	TypeStageStarted         Type = "stage_started"
	TypeStageCompleted       Type = "stage_completed"
	TypeTaskCreated          Type = "task_created"
	TypeTaskBlocked          Type = "task_blocked"
	TypeBlockerResolved      Type = "blocker_resolved"
	TypeDealUpdated          Type = "deal_updated"
	TypeFinanceEntryCreated  Type = "finance_entry_created"
	TypeRiskDetected         Type = "risk_detected"
	TypeScopeChangeRequested Type = "scope_change_requested"
	TypeNeedDetected         Type = "need_detected"
	TypeOfferCreated         Type = "offer_created"
	TypeApprovalApproved     Type = "approval_approved"
)

// Known reports whether t belongs to the closed vocabulary.
func Known(t Type) bool {
	switch t {
	case TypeMessageSent, TypeDecisionMade, TypeAgreementCreated,
		TypeStageStarted, TypeStageCompleted, TypeTaskCreated,
		TypeTaskBlocked, TypeBlockerResolved, TypeDealUpdated,
		TypeFinanceEntryCreated, TypeRiskDetected, TypeScopeChangeRequested,
		TypeNeedDetected, TypeOfferCreated, TypeApprovalApproved:
		return true
	}
	return false
}

// EvidenceRef points into exactly one external record. It never embeds content;
// consumers resolve it against the source table.
type EvidenceRef struct {
	Kind        string `json:"kind"` // message | issue | deal | document | chunk
	SourceTable string `json:"source_table"`
	SourcePK    string `json:"source_pk"`
}

// Key returns the identity used for evidence deduplication.
func (r EvidenceRef) Key() string {
	return r.Kind + "|" + r.SourceTable + "|" + r.SourcePK
}

// DedupeEvidence removes duplicate refs preserving first-seen order.
func DedupeEvidence(refs []EvidenceRef) []EvidenceRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]EvidenceRef, 0, len(refs))
	for _, r := range refs {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Event is one append-only record in the project event log. IDs are assigned
// monotonically at insert time and are the aggregator's replay cursor.
type Event struct {
	ID        int64           `json:"id"`
	Account   string          `json:"account"`
	Project   string          `json:"project"`
	Type      Type            `json:"event_type"`
	OccurredAt time.Time      `json:"event_ts"`
	Payload   json.RawMessage `json:"payload"`
	Evidence  []EvidenceRef   `json:"evidence_refs"`
}
