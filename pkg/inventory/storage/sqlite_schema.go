package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the inventory schema.
// Timestamps are stored as Unix nanoseconds so both drivers round-trip them
// identically.
const Schema = `
-- Issued leaf certificates
CREATE TABLE IF NOT EXISTS certificates (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    serial TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    not_before INTEGER NOT NULL,
    not_after INTEGER NOT NULL,
    issued_at INTEGER NOT NULL
);

-- CONNECT tunnels
CREATE TABLE IF NOT EXISTS tunnels (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    port INTEGER NOT NULL,
    mode TEXT NOT NULL,
    client_addr TEXT,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    bytes_up INTEGER NOT NULL DEFAULT 0,
    bytes_down INTEGER NOT NULL DEFAULT 0,
    requests INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    error TEXT
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_certificates_domain ON certificates(domain);
CREATE INDEX IF NOT EXISTS idx_certificates_issued_at ON certificates(issued_at);
CREATE INDEX IF NOT EXISTS idx_tunnels_domain ON tunnels(domain);
CREATE INDEX IF NOT EXISTS idx_tunnels_started_at ON tunnels(started_at);
CREATE INDEX IF NOT EXISTS idx_tunnels_outcome ON tunnels(outcome);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
