package store

// schema is applied on every Open. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    fews_id      INTEGER NOT NULL,
    fnid         TEXT    NOT NULL DEFAULT '',
    name         TEXT    NOT NULL,
    admin_1      TEXT    NOT NULL DEFAULT '',
    admin_2      TEXT    NOT NULL DEFAULT '',
    country_code TEXT    NOT NULL DEFAULT '',
    latitude     REAL,
    longitude    REAL,
    created_at   TEXT    NOT NULL,
    UNIQUE (fews_id, fnid)
);

CREATE TABLE IF NOT EXISTS products (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    name              TEXT    NOT NULL,
    product_source    TEXT    NOT NULL DEFAULT '',
    cpcv2             TEXT    NOT NULL DEFAULT '',
    cpcv2_description TEXT    NOT NULL DEFAULT '',
    is_staple_food    INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT    NOT NULL,
    UNIQUE (name, product_source)
);

CREATE TABLE IF NOT EXISTS units (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    name              TEXT    NOT NULL UNIQUE,
    unit_type         TEXT    NOT NULL DEFAULT '',
    common_unit       TEXT    NOT NULL DEFAULT '',
    conversion_factor REAL    CHECK (conversion_factor IS NULL OR conversion_factor > 0),
    created_at        TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS data_sources (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    fews_id       INTEGER NOT NULL UNIQUE,
    name          TEXT    NOT NULL DEFAULT '',
    document_name TEXT    NOT NULL DEFAULT '',
    created_at    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS price_observations (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id             INTEGER NOT NULL REFERENCES markets (id),
    product_id            INTEGER NOT NULL REFERENCES products (id),
    unit_id               INTEGER NOT NULL REFERENCES units (id),
    source_id             INTEGER REFERENCES data_sources (id),
    period_date           TEXT    NOT NULL,
    start_date            TEXT,
    price_type            TEXT    NOT NULL,
    currency              TEXT    NOT NULL,
    value                 REAL    NOT NULL,
    exchange_rate         REAL,
    common_unit_price     REAL,
    common_currency_price REAL,
    collection_status     TEXT    NOT NULL DEFAULT '',
    fews_dataseries_id    INTEGER,
    api_modified_at       TEXT,
    imported_at           TEXT    NOT NULL,
    UNIQUE (market_id, product_id, unit_id, period_date, price_type)
);

CREATE INDEX IF NOT EXISTS idx_obs_period  ON price_observations (period_date);
CREATE INDEX IF NOT EXISTS idx_obs_product ON price_observations (product_id, period_date);

CREATE TABLE IF NOT EXISTS import_log (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           TEXT    NOT NULL UNIQUE,
    mode             TEXT    NOT NULL,
    import_date      TEXT    NOT NULL,
    finished_at      TEXT,
    date_range_start TEXT,
    date_range_end   TEXT,
    records_fetched  INTEGER NOT NULL DEFAULT 0,
    records_inserted INTEGER NOT NULL DEFAULT 0,
    records_updated  INTEGER NOT NULL DEFAULT 0,
    records_skipped  INTEGER NOT NULL DEFAULT 0,
    records_errored  INTEGER NOT NULL DEFAULT 0,
    status           TEXT    NOT NULL CHECK (status IN ('running', 'success', 'partial', 'failed')),
    error_message    TEXT
);

CREATE INDEX IF NOT EXISTS idx_import_log_status ON import_log (status);

CREATE TRIGGER IF NOT EXISTS import_log_closed_immutable
BEFORE UPDATE ON import_log
WHEN OLD.status != 'running'
BEGIN
    SELECT RAISE(ABORT, 'import_log entry is closed');
END;

CREATE TRIGGER IF NOT EXISTS import_log_no_delete
BEFORE DELETE ON import_log
BEGIN
    SELECT RAISE(ABORT, 'import_log entries cannot be deleted');
END;

CREATE VIEW IF NOT EXISTS v_latest_prices AS
SELECT po.id          AS observation_id,
       m.name         AS market,
       m.admin_1      AS admin_1,
       p.name         AS product,
       u.name         AS unit,
       po.price_type  AS price_type,
       po.period_date AS period_date,
       po.currency    AS currency,
       po.value       AS value,
       po.common_unit_price     AS common_unit_price,
       po.common_currency_price AS common_currency_price
FROM price_observations po
JOIN (
    SELECT market_id, product_id, unit_id, price_type, MAX(period_date) AS period_date
    FROM price_observations
    GROUP BY market_id, product_id, unit_id, price_type
) latest USING (market_id, product_id, unit_id, price_type, period_date)
JOIN markets  m ON m.id = po.market_id
JOIN products p ON p.id = po.product_id
JOIN units    u ON u.id = po.unit_id;

CREATE VIEW IF NOT EXISTS v_price_series AS
SELECT po.id          AS observation_id,
       m.name         AS market,
       m.admin_1      AS admin_1,
       m.admin_2      AS admin_2,
       p.name         AS product,
       u.name         AS unit,
       u.common_unit  AS common_unit,
       po.price_type  AS price_type,
       po.period_date AS period_date,
       po.currency    AS currency,
       po.value       AS value,
       po.common_unit_price     AS common_unit_price,
       po.common_currency_price AS common_currency_price,
       COALESCE(ds.name, '')    AS source
FROM price_observations po
JOIN markets  m ON m.id = po.market_id
JOIN products p ON p.id = po.product_id
JOIN units    u ON u.id = po.unit_id
LEFT JOIN data_sources ds ON ds.id = po.source_id;
`
