package store

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id                TEXT PRIMARY KEY,
    region            TEXT NOT NULL,
    category          TEXT NOT NULL DEFAULT '',
    title             TEXT NOT NULL,
    body              TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    published_at      DATETIME NOT NULL,
    views             INTEGER NOT NULL DEFAULT 0,
    comments          INTEGER NOT NULL DEFAULT 0,
    shares            INTEGER NOT NULL DEFAULT 0,
    avg_dwell_seconds REAL,
    processed_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_articles_region_category ON articles(region, category, published_at);
CREATE INDEX IF NOT EXISTS idx_articles_processed ON articles(processed_at);

CREATE TABLE IF NOT EXISTS threads (
    id                  TEXT PRIMARY KEY,
    region              TEXT NOT NULL,
    title               TEXT NOT NULL,
    summary             TEXT NOT NULL DEFAULT '',
    category            TEXT NOT NULL DEFAULT '',
    subcategory         TEXT NOT NULL DEFAULT '',
    tags                TEXT NOT NULL DEFAULT '[]',
    priority            TEXT NOT NULL,
    status              TEXT NOT NULL,
    entities            TEXT NOT NULL DEFAULT '{}',
    monitoring_keywords TEXT NOT NULL DEFAULT '[]',
    first_article_at    DATETIME NOT NULL,
    last_article_at     DATETIME NOT NULL,
    next_check_at       DATETIME NOT NULL,
    version             INTEGER NOT NULL DEFAULT 1,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_active ON threads(region, category, status);
CREATE INDEX IF NOT EXISTS idx_threads_last_article ON threads(last_article_at);

CREATE TABLE IF NOT EXISTS thread_articles (
    thread_id  TEXT NOT NULL REFERENCES threads(id),
    article_id TEXT NOT NULL REFERENCES articles(id),
    sequence   INTEGER NOT NULL,
    role       TEXT NOT NULL,
    added_at   DATETIME NOT NULL,
    UNIQUE(article_id),
    UNIQUE(thread_id, sequence)
);

CREATE TABLE IF NOT EXISTS beats (
    id            TEXT PRIMARY KEY,
    thread_id     TEXT NOT NULL REFERENCES threads(id),
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    expected_date DATETIME,
    likelihood    INTEGER NOT NULL DEFAULT 0,
    position      INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_beats_thread ON beats(thread_id);

CREATE TABLE IF NOT EXISTS triggers (
    id         TEXT PRIMARY KEY,
    thread_id  TEXT NOT NULL REFERENCES threads(id),
    type       TEXT NOT NULL,
    config     TEXT NOT NULL DEFAULT '{}',
    not_before DATETIME NOT NULL,
    not_after  DATETIME NOT NULL,
    due_at     DATETIME NOT NULL,
    fires      INTEGER NOT NULL DEFAULT 0,
    state      TEXT NOT NULL,
    last_fired DATETIME,
    created_at DATETIME NOT NULL,
    CHECK (not_before < not_after)
);

CREATE INDEX IF NOT EXISTS idx_triggers_due ON triggers(state, due_at);
CREATE INDEX IF NOT EXISTS idx_triggers_thread ON triggers(thread_id);

CREATE TABLE IF NOT EXISTS leases (
    name       TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    expires_at DATETIME NOT NULL
);
`
