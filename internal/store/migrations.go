package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connections (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	base_url            TEXT NOT NULL UNIQUE,
	default_project_id  TEXT NOT NULL DEFAULT '',
	default_tracker_id  TEXT NOT NULL DEFAULT '',
	default_priority_id TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_connections_name ON connections(name);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS issue_log (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	issue_id      INTEGER NOT NULL,
	project_id    TEXT NOT NULL,
	subject       TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	origin        TEXT NOT NULL DEFAULT 'cli' CHECK(origin IN ('cli', 'http', 'mail')),
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issue_log_connection_id ON issue_log(connection_id);
CREATE INDEX IF NOT EXISTS idx_issue_log_created_at ON issue_log(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE connections ADD COLUMN credential_key TEXT NOT NULL DEFAULT '';

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
