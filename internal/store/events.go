package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/harunnryd/mihari/internal/errors"
	"github.com/harunnryd/mihari/internal/event"
)

// AppendEvent writes one event and returns its assigned id. Ids are
// monotonically increasing across the whole log; callers never supply them.
func (s *Store) AppendEvent(ctx context.Context, e event.Event) (int64, error) {
	if e.Account == "" || e.Project == "" || e.Type == "" {
		return 0, errors.InvalidInput("event requires account, project, and event_type")
	}
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		payload = e.Payload
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events(account, project, event_type, occurred_at, payload, evidence_json)
		VALUES(?,?,?,?,?,?)`,
		e.Account, e.Project, e.Type, e.OccurredAt.UTC(), string(payload), string(evidence))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEventsAfter returns events with id > afterID for one project, ordered
// by id. This is the aggregator's incremental read.
func (s *Store) ListEventsAfter(ctx context.Context, account, project string, afterID int64) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, project, event_type, occurred_at, payload, evidence_json
		FROM events WHERE account=? AND project=? AND id>? ORDER BY id ASC`,
		account, project, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsBetween returns a project's events with occurred_at in [from, to),
// ordered by id.
func (s *Store) ListEventsBetween(ctx context.Context, account, project string, from, to time.Time) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, project, event_type, occurred_at, payload, evidence_json
		FROM events WHERE account=? AND project=? AND occurred_at>=? AND occurred_at<? ORDER BY id ASC`,
		account, project, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Projects lists the distinct projects an account has events for.
func (s *Store) Projects(ctx context.Context, account string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT project FROM events WHERE account=? ORDER BY project ASC`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var out []event.Event
	for rows.Next() {
		var (
			e        event.Event
			payload  string
			evidence string
		)
		if err := rows.Scan(&e.ID, &e.Account, &e.Project, &e.Type, &e.OccurredAt, &payload, &evidence); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.Payload = json.RawMessage(payload)
		if err := json.Unmarshal([]byte(evidence), &e.Evidence); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
