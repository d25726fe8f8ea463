package event

import "encoding/json"

// Per-type payload schemas. Decoding is forgiving: missing fields zero out,
// unknown fields are dropped, and a broken payload decodes to its zero value
// so one malformed producer record cannot poison a refresh. Event types whose
// payload carries nothing the fold reads (decisions, risks, needs, offers,
// approvals) have no schema here; they count as activity and evidence only.

type MessagePayload struct {
	Direction  string  `json:"direction"` // inbound (client) | outbound (team)
	SenderRole string  `json:"sender_role"`
	Sentiment  float64 `json:"sentiment"` // [-1, 1]
}

type AgreementPayload struct {
	Amount float64 `json:"amount"`
}

type StagePayload struct {
	Stage           string  `json:"stage"`
	DueAt           string  `json:"due_at"` // RFC3339, optional
	ApprovalPending bool    `json:"approval_pending"`
	PlannedBudget   float64 `json:"planned_budget"`
}

type TaskPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

type DealPayload struct {
	Stage         string  `json:"stage"`
	PreviousStage string  `json:"previous_stage"`
	Amount        float64 `json:"amount"`
	Pipeline      string  `json:"pipeline"`
}

type FinanceEntryPayload struct {
	Kind          string  `json:"kind"` // cost | income
	Amount        float64 `json:"amount"`
	PlannedBudget float64 `json:"planned_budget"` // optional baseline override
}

type ScopeChangePayload struct {
	Description    string  `json:"description"`
	EstimatedHours float64 `json:"estimated_hours"`
}

func decode[T any](raw json.RawMessage) T {
	var v T
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

func (e Event) Message() MessagePayload           { return decode[MessagePayload](e.Payload) }
func (e Event) Agreement() AgreementPayload       { return decode[AgreementPayload](e.Payload) }
func (e Event) Stage() StagePayload               { return decode[StagePayload](e.Payload) }
func (e Event) Task() TaskPayload                 { return decode[TaskPayload](e.Payload) }
func (e Event) Deal() DealPayload                 { return decode[DealPayload](e.Payload) }
func (e Event) FinanceEntry() FinanceEntryPayload { return decode[FinanceEntryPayload](e.Payload) }
