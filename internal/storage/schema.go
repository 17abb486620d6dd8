package storage

const schema = `
CREATE TABLE IF NOT EXISTS deployments (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	name           TEXT NOT NULL,
	script_content TEXT NOT NULL,
	script_version TEXT NOT NULL DEFAULT '',
	manifest       JSONB NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL,
	error_detail   TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS deployments_user_idx ON deployments (user_id, status);
CREATE INDEX IF NOT EXISTS deployments_status_idx ON deployments (status);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	deployment_id TEXT NOT NULL REFERENCES deployments (id),
	user_id       TEXT NOT NULL,
	trigger_kind  TEXT NOT NULL,
	function      TEXT NOT NULL,
	status        TEXT NOT NULL,
	output        TEXT NOT NULL DEFAULT '',
	stderr        TEXT NOT NULL DEFAULT '',
	error_detail  TEXT NOT NULL DEFAULT '',
	exit_code     INT NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS runs_deployment_idx ON runs (deployment_id, started_at DESC);
CREATE INDEX IF NOT EXISTS runs_user_idx ON runs (user_id, started_at DESC);

CREATE TABLE IF NOT EXISTS credentials (
	user_id     TEXT NOT NULL,
	integration TEXT NOT NULL,
	fields      JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, integration)
);

CREATE TABLE IF NOT EXISTS deployment_events (
	id            BIGSERIAL PRIMARY KEY,
	deployment_id TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	kind          TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS deployment_events_idx ON deployment_events (deployment_id, at DESC);
`
