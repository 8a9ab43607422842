// Package memory implements Coop's structured long-term memory: an
// append-only observation store with full-text + embedding recall and an
// LLM-mediated reconciliation pass that keeps overlapping facts from
// accumulating as duplicate rows.
package memory

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id             TEXT PRIMARY KEY,
	agent_id       TEXT NOT NULL,
	session_key    TEXT,
	store          TEXT NOT NULL,
	obs_type       TEXT NOT NULL,
	title          TEXT NOT NULL,
	narrative      TEXT NOT NULL,
	facts          TEXT NOT NULL,
	tags           TEXT NOT NULL,
	source         TEXT NOT NULL,
	related_files  TEXT NOT NULL,
	related_people TEXT NOT NULL,
	hash           TEXT NOT NULL,
	mention_count  INTEGER NOT NULL DEFAULT 1,
	token_count    INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	expires_at     INTEGER,
	min_trust      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_hash ON observations(agent_id, hash) WHERE expires_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_observations_store_type ON observations(store, obs_type);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_key);

CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
	title, narrative, facts, tags,
	content='observations', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
	INSERT INTO observations_fts(rowid, title, narrative, facts, tags)
	VALUES (new.rowid, new.title, new.narrative, new.facts, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, title, narrative, facts, tags)
	VALUES ('delete', old.rowid, old.title, old.narrative, old.facts, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, title, narrative, facts, tags)
	VALUES ('delete', old.rowid, old.title, old.narrative, old.facts, old.tags);
	INSERT INTO observations_fts(rowid, title, narrative, facts, tags)
	VALUES (new.rowid, new.title, new.narrative, new.facts, new.tags);
END;

CREATE TABLE IF NOT EXISTS observation_embeddings (
	observation_id TEXT PRIMARY KEY REFERENCES observations(id),
	vector         BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS observation_history (
	id             TEXT PRIMARY KEY,
	observation_id TEXT NOT NULL,
	kind           TEXT NOT NULL,
	detail         TEXT,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_observation ON observation_history(observation_id);

CREATE TABLE IF NOT EXISTS observation_archive (
	id             TEXT PRIMARY KEY,
	agent_id       TEXT NOT NULL,
	store          TEXT NOT NULL,
	obs_type       TEXT NOT NULL,
	title          TEXT NOT NULL,
	narrative      TEXT NOT NULL,
	facts          TEXT NOT NULL,
	tags           TEXT NOT NULL,
	related_files  TEXT NOT NULL,
	related_people TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	archived_at    INTEGER NOT NULL,
	reason         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS people (
	agent_id       TEXT NOT NULL,
	name           TEXT NOT NULL,
	store          TEXT NOT NULL,
	facts          TEXT NOT NULL,
	last_mentioned INTEGER NOT NULL,
	mention_count  INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (agent_id, name)
);

CREATE TABLE IF NOT EXISTS session_summaries (
	session_key       TEXT PRIMARY KEY,
	request           TEXT NOT NULL,
	outcome           TEXT NOT NULL,
	decisions         TEXT NOT NULL,
	open_items        TEXT NOT NULL,
	observation_count INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
`
