package store

import "database/sql"

// Schema is the complete gecwatch schema.
const Schema = `
-- Tender pages to monitor
CREATE TABLE IF NOT EXISTS sources (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL DEFAULT '',
    name              TEXT NOT NULL,
    url               TEXT NOT NULL,
    kind              TEXT NOT NULL DEFAULT 'single',
    enabled           INTEGER NOT NULL DEFAULT 1,
    defended          INTEGER NOT NULL DEFAULT 0,
    interval_hours    INTEGER NOT NULL DEFAULT 24,
    min_body_bytes    INTEGER NOT NULL DEFAULT 0,
    last_content_hash TEXT NOT NULL DEFAULT '',
    last_scraped_at   INTEGER,
    last_status       TEXT NOT NULL DEFAULT 'pending',
    last_error        TEXT NOT NULL DEFAULT '',
    consec_failures   INTEGER NOT NULL DEFAULT 0,
    total_runs        INTEGER NOT NULL DEFAULT 0,
    total_new_records INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sources_url_unique ON sources(url);
CREATE INDEX IF NOT EXISTS idx_sources_enabled ON sources(enabled, last_scraped_at);

-- Extracted tender records. Insert-only; dedup key is (source_id, data_hash).
CREATE TABLE IF NOT EXISTS transactions (
    id                 TEXT PRIMARY KEY,
    source_id          TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    owner_id           TEXT NOT NULL DEFAULT '',
    project_name       TEXT NOT NULL,
    procurement_number TEXT,
    bidding_unit       TEXT,
    bidder_unit        TEXT,
    winning_unit       TEXT,
    total_price        REAL,
    quantity           REAL,
    unit_price         REAL,
    detail_link        TEXT,
    is_channel         INTEGER,
    cert_years         TEXT,
    bid_start_date     TEXT,
    bid_end_date       TEXT,
    award_date         TEXT,
    publish_date       TEXT,
    data_hash          TEXT NOT NULL,
    first_seen_at      INTEGER NOT NULL,
    last_updated_at    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_dedup ON transactions(source_id, data_hash);
CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(source_id, first_seen_at DESC);

-- One row per orchestration cycle per source
CREATE TABLE IF NOT EXISTS scrape_logs (
    id                TEXT PRIMARY KEY,
    source_id         TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    owner_id          TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL,
    records_seen      INTEGER NOT NULL DEFAULT 0,
    new_records       INTEGER NOT NULL DEFAULT 0,
    duplicate_records INTEGER NOT NULL DEFAULT 0,
    duration_ms       INTEGER NOT NULL DEFAULT 0,
    error_detail      TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_logs_source ON scrape_logs(source_id, created_at DESC);

-- Pipeline events surfaced to the owner. Write-only from the pipeline.
CREATE TABLE IF NOT EXISTS notifications (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL DEFAULT '',
    kind          TEXT NOT NULL,
    title         TEXT NOT NULL,
    message       TEXT NOT NULL DEFAULT '',
    link          TEXT NOT NULL DEFAULT '',
    metadata_json TEXT NOT NULL DEFAULT '{}',
    is_read       INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner_id, created_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
