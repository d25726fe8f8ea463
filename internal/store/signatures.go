package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/similarity"
)

// UpsertSignature overwrites the row for (project, window).
func (s *Store) UpsertSignature(ctx context.Context, sig similarity.Signature) error {
	vector, err := json.Marshal(sig.Vector)
	if err != nil {
		return err
	}
	bigrams, err := json.Marshal(sig.Bigrams)
	if err != nil {
		return err
	}
	ctxJSON, err := json.Marshal(sig.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO case_signatures(account, project, window_days, vector_json, bigrams_json, context_json, computed_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (account, project, window_days)
		DO UPDATE SET
			vector_json=excluded.vector_json,
			bigrams_json=excluded.bigrams_json,
			context_json=excluded.context_json,
			computed_at=excluded.computed_at`,
		sig.Account, sig.Project, sig.WindowDays, string(vector), string(bigrams), string(ctxJSON), sig.ComputedAt.UTC())
	return err
}

// GetSignature returns the signature for (project, window) or ErrNotFound.
func (s *Store) GetSignature(ctx context.Context, account, project string, windowDays int) (*similarity.Signature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account, project, window_days, vector_json, bigrams_json, context_json, computed_at
		FROM case_signatures WHERE account=? AND project=? AND window_days=?`,
		account, project, windowDays)
	sig, err := scanSignature(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound(fmt.Sprintf("signature %s/%s window %d", account, project, windowDays))
	}
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// ListSignatures returns every project's signature for one window within an
// account. Similarity ranking never crosses accounts.
func (s *Store) ListSignatures(ctx context.Context, account string, windowDays int) ([]similarity.Signature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, project, window_days, vector_json, bigrams_json, context_json, computed_at
		FROM case_signatures WHERE account=? AND window_days=? ORDER BY project ASC`,
		account, windowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []similarity.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignature(row rowScanner) (*similarity.Signature, error) {
	var (
		sig                       similarity.Signature
		vector, bigrams, ctxJSON string
	)
	if err := row.Scan(&sig.Account, &sig.Project, &sig.WindowDays, &vector, &bigrams, &ctxJSON, &sig.ComputedAt); err != nil {
		return nil, err
	}
	sig.ComputedAt = sig.ComputedAt.UTC()
	if err := json.Unmarshal([]byte(vector), &sig.Vector); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bigrams), &sig.Bigrams); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ctxJSON), &sig.Context); err != nil {
		return nil, err
	}
	return &sig, nil
}
