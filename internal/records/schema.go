package records

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
    id              TEXT PRIMARY KEY,
    original_name   TEXT,
    source_type     TEXT NOT NULL,
    source_url      TEXT,
    extension       TEXT,
    content_type    TEXT,
    size_bytes      INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    last_stage      TEXT,
    requested_steps TEXT,
    last_error      TEXT,
    chunk_count     INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_records_status ON file_records (status);
CREATE INDEX IF NOT EXISTS idx_file_records_created ON file_records (created_at);
`
