package store

import (
	"context"
	"encoding/json"

	"github.com/harunnryd/mihari/internal/scoring"
)

// UpsertScores replaces the live row per (project, score_type).
func (s *Store) UpsertScores(ctx context.Context, account, project string, scores []scoring.Score) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sc := range scores {
		factors, err := json.Marshal(sc.Factors)
		if err != nil {
			return err
		}
		evidence, err := json.Marshal(sc.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scores(account, project, score_type, value, level, factors_json, evidence_json, computed_at)
			VALUES(?,?,?,?,?,?,?,?)
			ON CONFLICT (account, project, score_type)
			DO UPDATE SET
				value=excluded.value,
				level=excluded.level,
				factors_json=excluded.factors_json,
				evidence_json=excluded.evidence_json,
				computed_at=excluded.computed_at`,
			account, project, sc.Type, sc.Value, sc.Level, string(factors), string(evidence), sc.ComputedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListScores returns the live scores for one project ordered by type.
func (s *Store) ListScores(ctx context.Context, account, project string) ([]scoring.Score, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT score_type, value, level, factors_json, evidence_json, computed_at
		FROM scores WHERE account=? AND project=? ORDER BY score_type ASC`, account, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scoring.Score
	for rows.Next() {
		var (
			sc       scoring.Score
			factors  string
			evidence string
		)
		if err := rows.Scan(&sc.Type, &sc.Value, &sc.Level, &factors, &evidence, &sc.ComputedAt); err != nil {
			return nil, err
		}
		sc.ComputedAt = sc.ComputedAt.UTC()
		if err := json.Unmarshal([]byte(factors), &sc.Factors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(evidence), &sc.Evidence); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
