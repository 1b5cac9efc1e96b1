package cache

// SchemaVersion is stamped into metadata on first init. Bump this and add
// a migration branch in Engine.initSchema when the DDL below changes in
// a way existing on-disk caches can't tolerate.
const SchemaVersion = 1

// schemaDDL creates every table, generated column, FTS5 shadow table, and
// sync trigger the cache needs. It is safe to run against an existing
// database: every statement is IF NOT EXISTS.
//
// Derived columns are extracted from the JSON document with SQLite's
// json_extract and declared STORED so a conventional index can cover them.
// The *_fts tables are external-content shadows (content=<table>,
// content_rowid=rowid) kept in lockstep by the three triggers per entity.
// save() itself only deletes and inserts rows; the UPDATE trigger keeps
// the shadow table from drifting if a row is ever updated in place, so
// all three are declared here.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	doc          TEXT NOT NULL,
	name         TEXT GENERATED ALWAYS AS (json_extract(doc, '$.name')) STORED,
	display_name TEXT GENERATED ALWAYS AS (json_extract(doc, '$.display_name')) STORED,
	real_name    TEXT GENERATED ALWAYS AS (json_extract(doc, '$.real_name')) STORED,
	email        TEXT GENERATED ALWAYS AS (json_extract(doc, '$.email')) STORED,
	is_bot       INTEGER GENERATED ALWAYS AS (json_extract(doc, '$.is_bot')) STORED,
	updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_updated_at ON users(updated_at);

CREATE VIRTUAL TABLE IF NOT EXISTS users_fts USING fts5(
	name, display_name, real_name, email,
	content=users, content_rowid=rowid,
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS users_ai AFTER INSERT ON users BEGIN
	INSERT INTO users_fts(rowid, name, display_name, real_name, email)
	VALUES (new.rowid, new.name, new.display_name, new.real_name, new.email);
END;

CREATE TRIGGER IF NOT EXISTS users_ad AFTER DELETE ON users BEGIN
	INSERT INTO users_fts(users_fts, rowid, name, display_name, real_name, email)
	VALUES ('delete', old.rowid, old.name, old.display_name, old.real_name, old.email);
END;

CREATE TRIGGER IF NOT EXISTS users_au AFTER UPDATE ON users BEGIN
	INSERT INTO users_fts(users_fts, rowid, name, display_name, real_name, email)
	VALUES ('delete', old.rowid, old.name, old.display_name, old.real_name, old.email);
	INSERT INTO users_fts(rowid, name, display_name, real_name, email)
	VALUES (new.rowid, new.name, new.display_name, new.real_name, new.email);
END;

CREATE TABLE IF NOT EXISTS channels (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	name       TEXT GENERATED ALWAYS AS (json_extract(doc, '$.name')) STORED,
	is_private INTEGER GENERATED ALWAYS AS (json_extract(doc, '$.is_private')) STORED,
	is_im      INTEGER GENERATED ALWAYS AS (json_extract(doc, '$.is_im')) STORED,
	is_mpim    INTEGER GENERATED ALWAYS AS (json_extract(doc, '$.is_mpim')) STORED,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_channels_updated_at ON channels(updated_at);

CREATE VIRTUAL TABLE IF NOT EXISTS channels_fts USING fts5(
	name,
	content=channels, content_rowid=rowid,
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS channels_ai AFTER INSERT ON channels BEGIN
	INSERT INTO channels_fts(rowid, name) VALUES (new.rowid, new.name);
END;

CREATE TRIGGER IF NOT EXISTS channels_ad AFTER DELETE ON channels BEGIN
	INSERT INTO channels_fts(channels_fts, rowid, name) VALUES ('delete', old.rowid, old.name);
END;

CREATE TRIGGER IF NOT EXISTS channels_au AFTER UPDATE ON channels BEGIN
	INSERT INTO channels_fts(channels_fts, rowid, name) VALUES ('delete', old.rowid, old.name);
	INSERT INTO channels_fts(rowid, name) VALUES (new.rowid, new.name);
END;

CREATE TABLE IF NOT EXISTS locks (
	name        TEXT PRIMARY KEY,
	holder_id   TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// metadata keys, per spec.md §3.
const (
	metaLastUsersSync    = "last_users_sync"
	metaLastChannelsSync = "last_channels_sync"
	metaSchemaVersion    = "schema_version"
)
