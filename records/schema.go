package records

// Schema is the sqlite schema of the ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
	id                 TEXT PRIMARY KEY,
	provider_call_id   TEXT NOT NULL UNIQUE,
	caller_number      TEXT NOT NULL DEFAULT '',
	caller_city        TEXT NOT NULL DEFAULT '',
	caller_state       TEXT NOT NULL DEFAULT '',
	caller_country     TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	started_at         TEXT NOT NULL,
	ended_at           TEXT,
	duration_seconds   INTEGER NOT NULL DEFAULT 0,
	highest_risk       TEXT NOT NULL DEFAULT 'none',
	transcript         TEXT NOT NULL DEFAULT '',
	segments_processed INTEGER NOT NULL DEFAULT 0,
	responses_played   INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recording_chunks (
	id                        TEXT PRIMARY KEY,
	call_id                   TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	chunk_number              INTEGER NOT NULL,
	recording_url             TEXT NOT NULL DEFAULT '',
	local_path                TEXT NOT NULL DEFAULT '',
	sha256                    TEXT NOT NULL DEFAULT '',
	size_bytes                INTEGER NOT NULL DEFAULT 0,
	duration_seconds          INTEGER NOT NULL DEFAULT 0,
	transcription             TEXT,
	language_code             TEXT NOT NULL DEFAULT '',
	processed                 INTEGER NOT NULL DEFAULT 0,
	risk_assessment_completed INTEGER NOT NULL DEFAULT 0,
	response_audio            TEXT NOT NULL DEFAULT '',
	response_played           INTEGER NOT NULL DEFAULT 0,
	recorded_at               TEXT NOT NULL,
	processed_at              TEXT,
	UNIQUE (call_id, chunk_number)
);

CREATE TABLE IF NOT EXISTS risk_assessments (
	id               TEXT PRIMARY KEY,
	call_id          TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	chunk_number     INTEGER NOT NULL,
	category         TEXT NOT NULL,
	risk_level       TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 0,
	source           TEXT NOT NULL DEFAULT '',
	risk_factors     TEXT NOT NULL DEFAULT '[]',
	follow_up_needed INTEGER NOT NULL DEFAULT 0,
	follow_up_notes  TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS escalations (
	call_id    TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	trigger_type TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	category   TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY (call_id, trigger_type)
);

CREATE TABLE IF NOT EXISTS emergency_contact_attempts (
	id            TEXT PRIMARY KEY,
	call_id       TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	trigger_type  TEXT NOT NULL,
	contact_name  TEXT NOT NULL,
	contact_phone TEXT NOT NULL,
	contact_type  TEXT NOT NULL DEFAULT '',
	reached       INTEGER NOT NULL DEFAULT 0,
	provider_ref  TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	attempted_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_call ON risk_assessments(call_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_call ON emergency_contact_attempts(call_id);
`
