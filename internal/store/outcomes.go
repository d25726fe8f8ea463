package store

import (
	"context"
	"encoding/json"

	"github.com/harunnryd/mihari/internal/snapshot"
)

// InsertOutcomes is insert-only; rows whose content-derived dedupe key
// already exists are silently skipped so replaying a day never duplicates.
func (s *Store) InsertOutcomes(ctx context.Context, outcomes []snapshot.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		evidence, err := json.Marshal(o.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO case_outcomes(dedupe_key, account, project, outcome_type, occurred_at, severity, evidence_json)
			VALUES(?,?,?,?,?,?,?)`,
			o.DedupeKey, o.Account, o.Project, o.Type, o.OccurredAt.UTC(), o.Severity, string(evidence)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListOutcomes returns all recorded outcomes for one project ordered by
// occurrence time.
func (s *Store) ListOutcomes(ctx context.Context, account, project string) ([]snapshot.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dedupe_key, account, project, outcome_type, occurred_at, severity, evidence_json
		FROM case_outcomes WHERE account=? AND project=? ORDER BY occurred_at ASC, dedupe_key ASC`,
		account, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []snapshot.Outcome
	for rows.Next() {
		var (
			o        snapshot.Outcome
			evidence string
		)
		if err := rows.Scan(&o.DedupeKey, &o.Account, &o.Project, &o.Type, &o.OccurredAt, &o.Severity, &evidence); err != nil {
			return nil, err
		}
		o.OccurredAt = o.OccurredAt.UTC()
		if err := json.Unmarshal([]byte(evidence), &o.Evidence); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
