package recommend

import (
	"github.com/harunnryd/mihari/internal/event"
)

// Evidence kinds that count as a primary source for client-facing actions.
var primaryKinds = map[string]bool{
	"message": true,
	"issue":   true,
	"deal":    true,
}

const (
	qualityCountWeight     = 0.5
	qualityDiversityWeight = 0.35
	qualityPrimaryWeight   = 0.15

	qualityCountTarget     = 5.0
	qualityDiversityTarget = 3.0
)

// quality scores an evidence set on count, kind diversity, and the presence
// of a primary source. Range [0,1].
func quality(refs []event.EvidenceRef) float64 {
	if len(refs) == 0 {
		return 0
	}
	kinds := map[string]bool{}
	primary := 0.0
	for _, r := range refs {
		kinds[r.Kind] = true
		if primaryKinds[r.Kind] {
			primary = 1.0
		}
	}
	countScore := float64(len(refs)) / qualityCountTarget
	if countScore > 1 {
		countScore = 1
	}
	diversity := float64(len(kinds)) / qualityDiversityTarget
	if diversity > 1 {
		diversity = 1
	}
	return qualityCountWeight*countScore + qualityDiversityWeight*diversity + qualityPrimaryWeight*primary
}

func hasPrimary(refs []event.EvidenceRef) bool {
	for _, r := range refs {
		if primaryKinds[r.Kind] {
			return true
		}
	}
	return false
}

// applyGate fills the evidence-gate fields on a candidate. A candidate that
// fails any check stays in the result set as hidden so review tooling can
// audit why it was suppressed, with the first failing reason recorded.
func (e *Engine) applyGate(rec *Recommendation, requirePrimary bool) {
	rec.EvidenceCount = len(rec.Evidence)
	rec.EvidenceQuality = quality(rec.Evidence)

	switch {
	case rec.EvidenceCount < e.minEvidence:
		rec.GateStatus = GateHidden
		rec.GateReason = ReasonTooFewEvidence
	case requirePrimary && !hasPrimary(rec.Evidence):
		rec.GateStatus = GateHidden
		rec.GateReason = ReasonMissingPrimary
	case rec.EvidenceQuality < e.minQuality:
		rec.GateStatus = GateHidden
		rec.GateReason = ReasonQualityBelowMin
	default:
		rec.GateStatus = GateVisible
		rec.GateReason = ""
	}
}
