package postgres

import (
	"context"
	"fmt"
)

// Schema is the DDL for the five credential-lifecycle tables. Uniqueness
// constraints back the engine's duplicate checks: races past the
// application-level pre-check surface as unique violations and are
// translated to store.ErrDuplicate.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id          UUID PRIMARY KEY,
	email       VARCHAR(255) NOT NULL UNIQUE,
	username    VARCHAR(50)  NOT NULL,
	name        VARCHAR(100) NOT NULL,
	lastname    VARCHAR(100) NOT NULL,
	avatar_url  VARCHAR(2048),
	status      VARCHAR(16)  NOT NULL DEFAULT 'active',
	role        VARCHAR(16)  NOT NULL DEFAULT 'user',
	created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_credentials (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	password_hash VARCHAR(255) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS email_otps (
	email        VARCHAR(255) PRIMARY KEY,
	otp_hash     VARCHAR(255) NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	attempts     INT NOT NULL DEFAULT 0,
	resend_count INT NOT NULL DEFAULT 0,
	last_sent_at TIMESTAMPTZ NOT NULL,
	locked_until TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id                   UUID PRIMARY KEY,
	user_id              UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash           VARCHAR(255) NOT NULL,
	expires_at           TIMESTAMPTZ NOT NULL,
	revoked_at           TIMESTAMPTZ,
	replaced_by_token_id UUID,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	user_agent           VARCHAR(255),
	ip                   VARCHAR(64)
);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_id_idx ON refresh_tokens (user_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_created_at_idx ON refresh_tokens (created_at DESC);

CREATE TABLE IF NOT EXISTS user_identities (
	id                  UUID PRIMARY KEY,
	user_id             UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider            VARCHAR(16) NOT NULL,
	provider_user_id    VARCHAR(255) NOT NULL,
	email_from_provider VARCHAR(255),
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (provider, provider_user_id)
);
CREATE INDEX IF NOT EXISTS user_identities_user_id_idx ON user_identities (user_id);
`

// Migrate applies the schema. Idempotent; safe to run at startup.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.q.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
