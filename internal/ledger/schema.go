package ledger

// schema is idempotent; EnsureSchema may run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS members (
    id                      TEXT PRIMARY KEY,
    legacy_id               TEXT UNIQUE,
    slug                    TEXT UNIQUE NOT NULL,
    display_name            TEXT NOT NULL DEFAULT '',
    spendable_balance_pence BIGINT NOT NULL DEFAULT 0,
    savings_pence           BIGINT NOT NULL DEFAULT 0,
    lifetime_raised_pence   BIGINT NOT NULL DEFAULT 0,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Append-only. donation_key is the idempotency boundary for crediting funds.
CREATE TABLE IF NOT EXISTS donations (
    id                      UUID PRIMARY KEY,
    donation_key            TEXT NOT NULL UNIQUE,
    source                  TEXT NOT NULL,
    frequency               TEXT NOT NULL,
    member_id               TEXT NOT NULL REFERENCES members(id),
    donation_pence          BIGINT NOT NULL CHECK (donation_pence >= 0),
    savings_pence           BIGINT NOT NULL CHECK (savings_pence >= 0),
    spendable_pence         BIGINT NOT NULL CHECK (spendable_pence >= 0),
    platform_fee_pence      BIGINT NOT NULL CHECK (platform_fee_pence >= 0),
    total_paid_pence        BIGINT NOT NULL,
    currency                TEXT NOT NULL DEFAULT '',
    company_name            TEXT NOT NULL DEFAULT '',
    normalized_company_name TEXT NOT NULL DEFAULT '',
    wishlist_item_code      TEXT NOT NULL DEFAULT '',
    donor_name              TEXT NOT NULL DEFAULT 'Anonymous',
    message                 TEXT NOT NULL DEFAULT '',
    donor_email             TEXT NOT NULL DEFAULT '',
    notify_email            BOOLEAN NOT NULL DEFAULT false,
    event_created_at        TIMESTAMPTZ NOT NULL,
    recorded_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (spendable_pence + savings_pence = donation_pence),
    CHECK (total_paid_pence >= donation_pence)
);

CREATE TABLE IF NOT EXISTS webhook_events (
    event_id      TEXT PRIMARY KEY,
    event_type    TEXT NOT NULL,
    livemode      BOOLEAN NOT NULL DEFAULT false,
    status        TEXT NOT NULL CHECK (status IN ('processing', 'processed', 'duplicate', 'failed')),
    received_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    processed_at  TIMESTAMPTZ,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_donations_member_time ON donations (member_id, event_created_at);
CREATE INDEX IF NOT EXISTS idx_donations_event_time ON donations (event_created_at);
CREATE INDEX IF NOT EXISTS idx_donations_company ON donations (normalized_company_name);
CREATE INDEX IF NOT EXISTS idx_webhook_events_status_received ON webhook_events (status, received_at);
CREATE INDEX IF NOT EXISTS idx_webhook_events_received ON webhook_events (received_at DESC);

-- From-scratch replay of member totals; must always equal the members columns.
CREATE OR REPLACE VIEW member_balance_replay AS
SELECT m.id AS member_id,
       COALESCE(SUM(d.spendable_pence), 0) AS spendable_pence,
       COALESCE(SUM(d.savings_pence), 0)   AS savings_pence,
       COALESCE(SUM(d.donation_pence), 0)  AS lifetime_raised_pence
FROM members m
LEFT JOIN donations d ON d.member_id = m.id
GROUP BY m.id;
`
