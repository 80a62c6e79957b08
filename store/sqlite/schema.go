package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id           TEXT PRIMARY KEY,
	seq          INTEGER NOT NULL,
	ts           TEXT NOT NULL,
	ts_nanos     INTEGER NOT NULL,
	user_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	method       TEXT NOT NULL DEFAULT '',
	success      INTEGER NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	actor        TEXT NOT NULL DEFAULT '',
	ip           TEXT NOT NULL DEFAULT '',
	device       TEXT NOT NULL DEFAULT '',
	detail       TEXT NOT NULL DEFAULT '',
	attempt_kind TEXT NOT NULL DEFAULT '',
	attempt_data BLOB,
	prev_hash    TEXT NOT NULL DEFAULT '',
	hash         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_user_ts ON audit_entries(user_id, ts_nanos);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts_nanos);
CREATE INDEX IF NOT EXISTS idx_audit_seq ON audit_entries(seq);
`

const selectColumns = `id, seq, ts, user_id, action, method, success, reason, actor,
	ip, device, detail, attempt_kind, attempt_data, prev_hash, hash`
