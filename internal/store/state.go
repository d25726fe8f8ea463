package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/signal"
)

// GetSignalState loads the persisted fold state and cursor for one project.
// A missing row returns a fresh state with cursor 0. A row that no longer
// decodes or fails structural validation is a hard error, never a reset.
func (s *Store) GetSignalState(ctx context.Context, account, project string) (*signal.State, int64, error) {
	var (
		raw    string
		cursor int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT state_json, last_event_id FROM signal_states WHERE account=? AND project=?`,
		account, project).Scan(&raw, &cursor)
	if stderrors.Is(err, sql.ErrNoRows) {
		fresh := signal.NewState()
		return &fresh, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var st signal.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, 0, errors.CorruptedState(fmt.Sprintf("state for %s/%s does not decode: %v", account, project, err))
	}
	if err := st.Validate(); err != nil {
		return nil, 0, err
	}
	return &st, cursor, nil
}

// SaveSignalState persists state and cursor together in one statement so a
// crash can never split them.
func (s *Store) SaveSignalState(ctx context.Context, account, project string, st *signal.State, cursor int64) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signal_states(account, project, state_json, last_event_id, updated_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT (account, project)
		DO UPDATE SET
			state_json=excluded.state_json,
			last_event_id=excluded.last_event_id,
			updated_at=excluded.updated_at`,
		account, project, string(raw), cursor, time.Now().UTC())
	return err
}
