package storage

// finalSchema creates a brand-new store directly at the latest version. It
// must stay equivalent to legacy v0 plus every step in migrations.
const finalSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    label TEXT,
    pid INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);

CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    label TEXT,
    timestamp INTEGER NOT NULL,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    host TEXT NOT NULL,
    path TEXT NOT NULL,
    request_headers TEXT NOT NULL,
    request_body BLOB,
    request_body_truncated INTEGER NOT NULL DEFAULT 0,
    intercepted_by TEXT,
    interception_type TEXT,
    response_status INTEGER,
    response_headers TEXT,
    response_body BLOB,
    response_body_truncated INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_requests_session_ts ON requests(session_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_requests_label ON requests(label);
CREATE INDEX IF NOT EXISTS idx_requests_host ON requests(host);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(response_status);
CREATE INDEX IF NOT EXISTS idx_requests_method_ts ON requests(method, timestamp DESC);
`

const transactionColumns = `id, session_id, label, timestamp, method, url, host, path,
    request_headers, request_body, request_body_truncated, intercepted_by, interception_type,
    response_status, response_headers, response_body, response_body_truncated, duration_ms`

const summaryColumns = `id, session_id, label, timestamp, method, url, host, path,
    response_status, duration_ms, intercepted_by, interception_type,
    COALESCE(length(request_body), 0), COALESCE(length(response_body), 0),
    request_body_truncated, response_body_truncated`

const sessionColumns = `id, label, pid, created_at`

const newestFirst = ` ORDER BY timestamp DESC, rowid DESC`
