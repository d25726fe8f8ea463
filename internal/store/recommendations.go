package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/recommend"
)

// UpsertRecommendations writes candidates keyed by dedupe_key. Status is
// sticky: a row already in a terminal state keeps it, and an acknowledged
// row is not reset to new by a refresh that matched the same trigger again.
func (s *Store) UpsertRecommendations(ctx context.Context, recs []recommend.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range recs {
		signals, err := json.Marshal(r.SignalValues)
		if err != nil {
			return err
		}
		forecasts, err := json.Marshal(r.ForecastValues)
		if err != nil {
			return err
		}
		evidence, err := json.Marshal(r.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recommendations(dedupe_key, account, project, category, priority, status,
				evidence_count, quality, gate_status, gate_reason, template, draft_source,
				signals_json, forecasts_json, evidence_json, computed_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (dedupe_key)
			DO UPDATE SET
				priority=excluded.priority,
				status=CASE
					WHEN recommendations.status IN ('done','dismissed') THEN recommendations.status
					WHEN recommendations.status='acknowledged' AND excluded.status='new' THEN recommendations.status
					ELSE excluded.status
				END,
				evidence_count=excluded.evidence_count,
				quality=excluded.quality,
				gate_status=excluded.gate_status,
				gate_reason=excluded.gate_reason,
				template=excluded.template,
				draft_source=excluded.draft_source,
				signals_json=excluded.signals_json,
				forecasts_json=excluded.forecasts_json,
				evidence_json=excluded.evidence_json,
				computed_at=excluded.computed_at`,
			r.DedupeKey, r.Account, r.Project, r.Category, r.Priority, r.Status,
			r.EvidenceCount, r.EvidenceQuality, r.GateStatus, r.GateReason, r.SuggestedTemplate, r.DraftSource,
			string(signals), string(forecasts), string(evidence), r.ComputedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateRecommendationStatus applies a consumer transition. Unknown status
// values are a validation error; terminal rows reject further transitions.
func (s *Store) UpdateRecommendationStatus(ctx context.Context, dedupeKey, status string) error {
	if !recommend.ValidStatus(status) {
		return errors.InvalidStatus(fmt.Sprintf("status %q is not one of new, acknowledged, done, dismissed", status))
	}
	var current string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM recommendations WHERE dedupe_key=?`, dedupeKey).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("recommendation " + dedupeKey)
	}
	if err != nil {
		return err
	}
	if recommend.TerminalStatus(current) && current != status {
		return errors.InvalidStatus(fmt.Sprintf("recommendation %s is already %s", dedupeKey, current))
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE recommendations SET status=? WHERE dedupe_key=?`, status, dedupeKey)
	return err
}

// ListRecommendations returns a project's recommendations ordered by
// priority then category. Hidden rows are excluded unless includeHidden.
func (s *Store) ListRecommendations(ctx context.Context, account, project string, includeHidden bool) ([]recommend.Recommendation, error) {
	query := `
		SELECT dedupe_key, account, project, category, priority, status,
			evidence_count, quality, gate_status, gate_reason, template, draft_source,
			signals_json, forecasts_json, evidence_json, computed_at
		FROM recommendations WHERE account=? AND project=?`
	if !includeHidden {
		query += ` AND gate_status='visible'`
	}
	query += ` ORDER BY priority ASC, category ASC`

	rows, err := s.db.QueryContext(ctx, query, account, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recommend.Recommendation
	for rows.Next() {
		var (
			r                           recommend.Recommendation
			signals, forecasts, evidence string
		)
		if err := rows.Scan(&r.DedupeKey, &r.Account, &r.Project, &r.Category, &r.Priority, &r.Status,
			&r.EvidenceCount, &r.EvidenceQuality, &r.GateStatus, &r.GateReason, &r.SuggestedTemplate, &r.DraftSource,
			&signals, &forecasts, &evidence, &r.ComputedAt); err != nil {
			return nil, err
		}
		r.ComputedAt = r.ComputedAt.UTC()
		if err := json.Unmarshal([]byte(signals), &r.SignalValues); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(forecasts), &r.ForecastValues); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
