package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Process run phases.
const (
	PhaseStart  = "start"
	PhaseFinish = "finish"
	PhaseFail   = "fail"
	PhaseWarn   = "warn"
)

// ProcessRun is one lifecycle entry of a refresh. Append-only; the primary
// key (project, process, run_id, phase) makes re-recording a no-op.
type ProcessRun struct {
	Account    string           `json:"account"`
	Project    string           `json:"project"`
	Process    string           `json:"process"`
	RunID      string           `json:"run_id"`
	Phase      string           `json:"phase"`
	Counters   map[string]int64 `json:"counters,omitempty"`
	Error      string           `json:"error,omitempty"`
	ElapsedMS  int64            `json:"elapsed_ms,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

const maxRunErrorLen = 512

// RecordRun appends one lifecycle entry. Error messages are truncated so a
// pathological upstream failure cannot bloat the log.
func (s *Store) RecordRun(ctx context.Context, run ProcessRun) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return err
	}
	msg := run.Error
	if len(msg) > maxRunErrorLen {
		msg = msg[:maxRunErrorLen]
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO process_runs(account, project, process, run_id, phase, counters_json, error, elapsed_ms, recorded_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		run.Account, run.Project, run.Process, run.RunID, run.Phase, string(counters), msg, run.ElapsedMS, run.RecordedAt.UTC())
	return err
}

// ListRuns returns all lifecycle entries for one run id ordered by time.
func (s *Store) ListRuns(ctx context.Context, project, runID string) ([]ProcessRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, project, process, run_id, phase, counters_json, error, elapsed_ms, recorded_at
		FROM process_runs WHERE project=? AND run_id=? ORDER BY recorded_at ASC, phase ASC`,
		project, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]ProcessRun, error) {
	var out []ProcessRun
	for rows.Next() {
		var (
			r        ProcessRun
			counters string
		)
		if err := rows.Scan(&r.Account, &r.Project, &r.Process, &r.RunID, &r.Phase, &counters, &r.Error, &r.ElapsedMS, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.RecordedAt = r.RecordedAt.UTC()
		if err := json.Unmarshal([]byte(counters), &r.Counters); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunsForProject returns every lifecycle entry recorded for one project,
// oldest first.
func (s *Store) RunsForProject(ctx context.Context, project string) ([]ProcessRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, project, process, run_id, phase, counters_json, error, elapsed_ms, recorded_at
		FROM process_runs WHERE project=? ORDER BY recorded_at ASC, run_id ASC, phase ASC`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// MarkAbandonedRuns records a synthetic fail for every start older than
// cutoff that never reached finish or fail. The scheduler calls this before
// each cycle so crashed runs stay visible in the log.
func (s *Store) MarkAbandonedRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO process_runs(account, project, process, run_id, phase, counters_json, error, elapsed_ms, recorded_at)
		SELECT account, project, process, run_id, 'fail', '{}', 'abandoned: no finish recorded', 0, ?
		FROM process_runs p
		WHERE phase='start' AND recorded_at<?
		AND NOT EXISTS (
			SELECT 1 FROM process_runs q
			WHERE q.project=p.project AND q.process=p.process AND q.run_id=p.run_id
			AND q.phase IN ('finish','fail')
		)`, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
