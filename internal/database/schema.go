package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Users table: local accounts, linked to Strava after OAuth
CREATE TABLE IF NOT EXISTS users (
    username TEXT PRIMARY KEY,
    email TEXT NOT NULL,

    -- Strava linkage (strava_id = 0 means unlinked)
    strava_id INTEGER NOT NULL DEFAULT 0,
    scope BOOLEAN NOT NULL DEFAULT 0,

    -- Credentials
    password_hash TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',  -- stored encrypted
    access_token TEXT NOT NULL DEFAULT '',
    access_token_exp INTEGER NOT NULL DEFAULT 0,

    is_admin BOOLEAN NOT NULL DEFAULT 0,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    last_seen INTEGER NOT NULL
);

-- Athlete profiles mirrored from Strava, keyed by Strava athlete id
CREATE TABLE IF NOT EXISTS strava_athletes (
    id INTEGER PRIMARY KEY,
    doc TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Activities mirrored from Strava, keyed by Strava activity id
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY,
    doc TEXT NOT NULL,

    -- event_time of the newest webhook event applied to this row,
    -- used to ignore stale out-of-order events
    event_time INTEGER NOT NULL DEFAULT 0,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Work queue: webhook events and backfill jobs awaiting processing
CREATE TABLE IF NOT EXISTS work_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL DEFAULT 'webhook',
    data TEXT NOT NULL,

    retry_count INTEGER NOT NULL DEFAULT 0,
    claimed_at INTEGER,
    next_attempt_at INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,

    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_strava_id ON users(strava_id);

CREATE INDEX IF NOT EXISTS idx_work_queue_claimable ON work_queue(claimed_at, next_attempt_at);
`
