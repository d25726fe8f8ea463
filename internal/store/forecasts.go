package store

import (
	"context"
	"encoding/json"

	"github.com/harunnryd/mihari/internal/forecast"
)

// UpsertForecasts replaces the live row per (project, risk_type).
func (s *Store) UpsertForecasts(ctx context.Context, forecasts []forecast.Forecast) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range forecasts {
		drivers, err := json.Marshal(f.Drivers)
		if err != nil {
			return err
		}
		similar, err := json.Marshal(f.SimilarCases)
		if err != nil {
			return err
		}
		evidence, err := json.Marshal(f.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO forecasts(account, project, risk_type, probability_7d, probability_14d, probability_30d,
				expected_days, confidence, drivers_json, similar_json, evidence_json, publishable, computed_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (account, project, risk_type)
			DO UPDATE SET
				probability_7d=excluded.probability_7d,
				probability_14d=excluded.probability_14d,
				probability_30d=excluded.probability_30d,
				expected_days=excluded.expected_days,
				confidence=excluded.confidence,
				drivers_json=excluded.drivers_json,
				similar_json=excluded.similar_json,
				evidence_json=excluded.evidence_json,
				publishable=excluded.publishable,
				computed_at=excluded.computed_at`,
			f.Account, f.Project, f.RiskType, f.Probability7d, f.Probability14d, f.Probability30d,
			f.ExpectedTimeToRiskDays, f.Confidence, string(drivers), string(similar), string(evidence),
			boolToInt(f.Publishable), f.ComputedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListForecasts returns a project's forecasts ordered by risk type. By
// default only publishable rows are returned; includeHidden is the debugging
// override.
func (s *Store) ListForecasts(ctx context.Context, account, project string, includeHidden bool) ([]forecast.Forecast, error) {
	query := `
		SELECT account, project, risk_type, probability_7d, probability_14d, probability_30d,
			expected_days, confidence, drivers_json, similar_json, evidence_json, publishable, computed_at
		FROM forecasts WHERE account=? AND project=?`
	if !includeHidden {
		query += ` AND publishable=1`
	}
	query += ` ORDER BY risk_type ASC`

	rows, err := s.db.QueryContext(ctx, query, account, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []forecast.Forecast
	for rows.Next() {
		var (
			f                          forecast.Forecast
			drivers, similar, evidence string
			publishable                int
		)
		if err := rows.Scan(&f.Account, &f.Project, &f.RiskType, &f.Probability7d, &f.Probability14d, &f.Probability30d,
			&f.ExpectedTimeToRiskDays, &f.Confidence, &drivers, &similar, &evidence, &publishable, &f.ComputedAt); err != nil {
			return nil, err
		}
		f.ComputedAt = f.ComputedAt.UTC()
		f.Publishable = publishable != 0
		if err := json.Unmarshal([]byte(drivers), &f.Drivers); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(similar), &f.SimilarCases); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(evidence), &f.Evidence); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
