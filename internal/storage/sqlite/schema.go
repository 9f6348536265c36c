package sqlite

const schema = `
-- Scans table: one row per badge event
CREATE TABLE IF NOT EXISTS scans (
    local_id INTEGER PRIMARY KEY AUTOINCREMENT,
    badge_id TEXT NOT NULL CHECK(length(badge_id) >= 1 AND length(badge_id) <= 64),
    station_name TEXT NOT NULL CHECK(length(station_name) >= 1 AND length(station_name) <= 50),
    scanned_at TEXT NOT NULL,
    matched INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending' CHECK(sync_status IN ('pending','synced','failed')),
    idempotency_key TEXT NOT NULL DEFAULT '',
    last_error TEXT,
    attempt_count INTEGER NOT NULL DEFAULT 0 CHECK(attempt_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(sync_status, local_id);
CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at);

-- Config table (station identity and settings echoes)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata table (internal state: roster hash, schema version)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
