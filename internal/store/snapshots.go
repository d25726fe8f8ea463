package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/harunnryd/mihari/internal/snapshot"
)

// UpsertSnapshot freezes one day. Recomputing a day overwrites only that row.
func (s *Store) UpsertSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	signals, err := json.Marshal(snap.Signals)
	if err != nil {
		return err
	}
	normalized, err := json.Marshal(snap.Normalized)
	if err != nil {
		return err
	}
	scores, err := json.Marshal(snap.Scores)
	if err != nil {
		return err
	}
	aggregates, err := json.Marshal(snap.Aggregates)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots(account, project, date, signals_json, normalized_json, scores_json, aggregates_json)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (account, project, date)
		DO UPDATE SET
			signals_json=excluded.signals_json,
			normalized_json=excluded.normalized_json,
			scores_json=excluded.scores_json,
			aggregates_json=excluded.aggregates_json`,
		snap.Account, snap.Project, snap.Date, string(signals), string(normalized), string(scores), string(aggregates))
	return err
}

// ListSnapshotRange returns snapshots with date in [fromDate, toDate]
// inclusive, ordered by date. Dates are YYYY-MM-DD strings so lexical
// comparison is chronological.
func (s *Store) ListSnapshotRange(ctx context.Context, account, project, fromDate, toDate string) ([]snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, project, date, signals_json, normalized_json, scores_json, aggregates_json
		FROM snapshots WHERE account=? AND project=? AND date>=? AND date<=? ORDER BY date ASC`,
		account, project, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(rows *sql.Rows) (snapshot.Snapshot, error) {
	var (
		snap                                     snapshot.Snapshot
		signals, normalized, scores, aggregates string
	)
	if err := rows.Scan(&snap.Account, &snap.Project, &snap.Date, &signals, &normalized, &scores, &aggregates); err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(signals), &snap.Signals); err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(normalized), &snap.Normalized); err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(scores), &snap.Scores); err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(aggregates), &snap.Aggregates); err != nil {
		return snap, err
	}
	return snap, nil
}
