package store

import (
	"context"
	"encoding/json"

	"github.com/harunnryd/mihari/internal/signal"
)

// UpsertSignals replaces the live row per (project, key) and appends one
// history row per signal, in a single transaction.
func (s *Store) UpsertSignals(ctx context.Context, account, project string, signals []signal.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sig := range signals {
		evidence, err := json.Marshal(sig.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signals(account, project, key, value, status, evidence_json, computed_at)
			VALUES(?,?,?,?,?,?,?)
			ON CONFLICT (account, project, key)
			DO UPDATE SET
				value=excluded.value,
				status=excluded.status,
				evidence_json=excluded.evidence_json,
				computed_at=excluded.computed_at`,
			account, project, sig.Key, sig.Value, string(sig.Status), string(evidence), sig.ComputedAt.UTC()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signal_history(account, project, key, value, status, computed_at)
			VALUES(?,?,?,?,?,?)`,
			account, project, sig.Key, sig.Value, string(sig.Status), sig.ComputedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSignals returns the live signals for one project ordered by key.
func (s *Store) ListSignals(ctx context.Context, account, project string) ([]signal.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, status, evidence_json, computed_at
		FROM signals WHERE account=? AND project=? ORDER BY key ASC`, account, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		var (
			sig      signal.Signal
			status   string
			evidence string
		)
		if err := rows.Scan(&sig.Key, &sig.Value, &status, &evidence, &sig.ComputedAt); err != nil {
			return nil, err
		}
		sig.Status = signal.Status(status)
		sig.ComputedAt = sig.ComputedAt.UTC()
		if err := json.Unmarshal([]byte(evidence), &sig.Evidence); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
