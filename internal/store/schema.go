package store

// schemaVersion is bumped whenever schemaSQL changes incompatibly.
const schemaVersion = 1

// Timestamps are unix milliseconds; 0 means never.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	pk            INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT    NOT NULL UNIQUE,
	url           TEXT    NOT NULL UNIQUE,
	title         TEXT    NOT NULL DEFAULT '',
	summary       TEXT    NOT NULL DEFAULT '',
	last_visited  INTEGER NOT NULL DEFAULT 0,
	visit_count   INTEGER NOT NULL DEFAULT 0,
	saved         INTEGER NOT NULL DEFAULT 0,
	needs_reindex INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT    NOT NULL DEFAULT '',
	title_vec     BLOB,
	summary_vec   BLOB,
	vec_dim       INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_reindex ON pages(needs_reindex) WHERE needs_reindex = 1;
CREATE INDEX IF NOT EXISTS idx_pages_last_visited ON pages(last_visited DESC);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id     TEXT    NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	content     TEXT    NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	vec         BLOB,
	vec_dim     INTEGER NOT NULL DEFAULT 0,
	UNIQUE (page_id, seq)
);

-- FTS rowids equal the owning row's integer key.
CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts5(
	title,
	summary,
	tokenize = 'unicode61 remove_diacritics 2'
);
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	tokenize = 'unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS pages_ai AFTER INSERT ON pages BEGIN
	INSERT INTO pages_fts(rowid, title, summary) VALUES (new.pk, new.title, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS pages_ad AFTER DELETE ON pages BEGIN
	DELETE FROM pages_fts WHERE rowid = old.pk;
END;
CREATE TRIGGER IF NOT EXISTS pages_au AFTER UPDATE OF title, summary ON pages BEGIN
	DELETE FROM pages_fts WHERE rowid = old.pk;
	INSERT INTO pages_fts(rowid, title, summary) VALUES (new.pk, new.title, new.summary);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	DELETE FROM chunks_fts WHERE rowid = old.id;
END;

CREATE TABLE IF NOT EXISTS state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`
