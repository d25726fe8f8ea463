package store

// schema is idempotent; every statement guards with IF NOT EXISTS so Open can
// run it unconditionally.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	occurred_at   TIMESTAMP NOT NULL,
	payload       TEXT NOT NULL DEFAULT '{}',
	evidence_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_events_project ON events(account, project, id);
CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(account, project, occurred_at);

CREATE TABLE IF NOT EXISTS signal_states (
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	state_json    TEXT NOT NULL,
	last_event_id INTEGER NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (account, project)
);

CREATE TABLE IF NOT EXISTS signals (
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         REAL NOT NULL,
	status        TEXT NOT NULL,
	evidence_json TEXT NOT NULL DEFAULT '[]',
	computed_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (account, project, key)
);

CREATE TABLE IF NOT EXISTS signal_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         REAL NOT NULL,
	status        TEXT NOT NULL,
	computed_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signal_history ON signal_history(account, project, key, computed_at);

CREATE TABLE IF NOT EXISTS scores (
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	score_type    TEXT NOT NULL,
	value         REAL NOT NULL,
	level         TEXT NOT NULL,
	factors_json  TEXT NOT NULL DEFAULT '[]',
	evidence_json TEXT NOT NULL DEFAULT '[]',
	computed_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (account, project, score_type)
);

CREATE TABLE IF NOT EXISTS snapshots (
	account         TEXT NOT NULL,
	project         TEXT NOT NULL,
	date            TEXT NOT NULL,
	signals_json    TEXT NOT NULL DEFAULT '[]',
	normalized_json TEXT NOT NULL DEFAULT '{}',
	scores_json     TEXT NOT NULL DEFAULT '[]',
	aggregates_json TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (account, project, date)
);

CREATE TABLE IF NOT EXISTS case_outcomes (
	dedupe_key    TEXT PRIMARY KEY,
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	outcome_type  TEXT NOT NULL,
	occurred_at   TIMESTAMP NOT NULL,
	severity      REAL NOT NULL,
	evidence_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_outcomes_project ON case_outcomes(account, project);

CREATE TABLE IF NOT EXISTS case_signatures (
	account      TEXT NOT NULL,
	project      TEXT NOT NULL,
	window_days  INTEGER NOT NULL,
	vector_json  TEXT NOT NULL DEFAULT '[]',
	bigrams_json TEXT NOT NULL DEFAULT '[]',
	context_json TEXT NOT NULL DEFAULT '{}',
	computed_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (account, project, window_days)
);

CREATE TABLE IF NOT EXISTS forecasts (
	account        TEXT NOT NULL,
	project        TEXT NOT NULL,
	risk_type      TEXT NOT NULL,
	probability_7d  REAL NOT NULL,
	probability_14d REAL NOT NULL,
	probability_30d REAL NOT NULL,
	expected_days  REAL NOT NULL,
	confidence     REAL NOT NULL,
	drivers_json   TEXT NOT NULL DEFAULT '[]',
	similar_json   TEXT NOT NULL DEFAULT '[]',
	evidence_json  TEXT NOT NULL DEFAULT '[]',
	publishable    INTEGER NOT NULL DEFAULT 0,
	computed_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (account, project, risk_type)
);

CREATE TABLE IF NOT EXISTS recommendations (
	dedupe_key     TEXT PRIMARY KEY,
	account        TEXT NOT NULL,
	project        TEXT NOT NULL,
	category       TEXT NOT NULL,
	priority       INTEGER NOT NULL,
	status         TEXT NOT NULL,
	evidence_count INTEGER NOT NULL,
	quality        REAL NOT NULL,
	gate_status    TEXT NOT NULL,
	gate_reason    TEXT NOT NULL DEFAULT '',
	template       TEXT NOT NULL DEFAULT '',
	draft_source   TEXT NOT NULL DEFAULT '',
	signals_json   TEXT NOT NULL DEFAULT '{}',
	forecasts_json TEXT NOT NULL DEFAULT '{}',
	evidence_json  TEXT NOT NULL DEFAULT '[]',
	computed_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_project ON recommendations(account, project);

CREATE TABLE IF NOT EXISTS process_runs (
	account       TEXT NOT NULL,
	project       TEXT NOT NULL,
	process       TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	phase         TEXT NOT NULL,
	counters_json TEXT NOT NULL DEFAULT '{}',
	error         TEXT NOT NULL DEFAULT '',
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	recorded_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (project, process, run_id, phase)
);
`
