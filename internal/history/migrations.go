package history

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    batch_id TEXT,
    package_id TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    screenshot BLOB,
    retries INTEGER DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    duration_ms INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attempts_org_id ON attempts(org_id);
CREATE INDEX IF NOT EXISTS idx_attempts_batch_id ON attempts(batch_id);
CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at);

CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    package_id TEXT NOT NULL,
    org_count INTEGER NOT NULL,
    concurrency INTEGER NOT NULL,
    success_count INTEGER DEFAULT 0,
    failure_count INTEGER DEFAULT 0,
    other_count INTEGER DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
`
