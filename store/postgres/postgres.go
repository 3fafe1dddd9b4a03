// Package postgres implements the store contract on PostgreSQL via
// pgx. All five entities live in their own tables; the unit of work
// maps to a database transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/naballard/authflow/store"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// statement run either standalone or inside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a PostgreSQL-backed [store.Store].
type DB struct {
	pool *pgxpool.Pool
	q    querier
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool, q: pool}
}

// Connect opens a pool for dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// Close releases the underlying pool.
func (d *DB) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

func mapWriteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ---- users ----

func (d *DB) CreateUser(ctx context.Context, u *store.User) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO users (id, email, username, name, lastname, avatar_url, status, role, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`, u.ID, u.Email, u.Username, u.Name, u.Lastname, u.AvatarURL, u.Status, u.Role, u.CreatedAt)
	return mapWriteErr(err, "insert user")
}

func (d *DB) UpdateUser(ctx context.Context, u *store.User) error {
	tag, err := d.q.Exec(ctx, `
		UPDATE users SET username = $2, name = $3, lastname = $4,
			avatar_url = NULLIF($5, ''), status = $6, role = $7
		WHERE id = $1
	`, u.ID, u.Username, u.Name, u.Lastname, u.AvatarURL, u.Status, u.Role)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) UserByID(ctx context.Context, id string) (*store.User, error) {
	return d.scanUser(d.q.QueryRow(ctx, `
		SELECT id, email, username, name, lastname, COALESCE(avatar_url, ''), status, role, created_at
		FROM users WHERE id = $1
	`, id), "query user by id")
}

func (d *DB) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return d.scanUser(d.q.QueryRow(ctx, `
		SELECT id, email, username, name, lastname, COALESCE(avatar_url, ''), status, role, created_at
		FROM users WHERE email = $1
	`, email), "query user by email")
}

func (d *DB) scanUser(row pgx.Row, op string) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Name, &u.Lastname, &u.AvatarURL, &u.Status, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// ---- password credentials ----

func (d *DB) CreateCredential(ctx context.Context, c *store.PasswordCredential) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO user_credentials (id, user_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.UserID, c.PasswordHash, c.CreatedAt)
	return mapWriteErr(err, "insert credential")
}

func (d *DB) UpdateCredential(ctx context.Context, c *store.PasswordCredential) error {
	tag, err := d.q.Exec(ctx, `
		UPDATE user_credentials SET password_hash = $2 WHERE user_id = $1
	`, c.UserID, c.PasswordHash)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) CredentialByUserID(ctx context.Context, userID string) (*store.PasswordCredential, error) {
	var c store.PasswordCredential
	err := d.q.QueryRow(ctx, `
		SELECT id, user_id, password_hash, created_at
		FROM user_credentials WHERE user_id = $1
	`, userID).Scan(&c.ID, &c.UserID, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return &c, nil
}

// ---- pending OTPs ----

func (d *DB) OTPByEmail(ctx context.Context, email string) (*store.PendingOTP, error) {
	var o store.PendingOTP
	err := d.q.QueryRow(ctx, `
		SELECT email, otp_hash, expires_at, attempts, resend_count, last_sent_at, locked_until
		FROM email_otps WHERE email = $1
	`, email).Scan(&o.Email, &o.OTPHash, &o.ExpiresAt, &o.Attempts, &o.ResendCount, &o.LastSentAt, &o.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query otp: %w", err)
	}
	return &o, nil
}

func (d *DB) SaveOTP(ctx context.Context, o *store.PendingOTP) error {
	// The primary key on email makes the upsert the single-active-record
	// guarantee: concurrent requests for one address serialize here.
	_, err := d.q.Exec(ctx, `
		INSERT INTO email_otps (email, otp_hash, expires_at, attempts, resend_count, last_sent_at, locked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			otp_hash = EXCLUDED.otp_hash,
			expires_at = EXCLUDED.expires_at,
			attempts = EXCLUDED.attempts,
			resend_count = EXCLUDED.resend_count,
			last_sent_at = EXCLUDED.last_sent_at,
			locked_until = EXCLUDED.locked_until
	`, o.Email, o.OTPHash, o.ExpiresAt, o.Attempts, o.ResendCount, o.LastSentAt, o.LockedUntil)
	return mapWriteErr(err, "upsert otp")
}

func (d *DB) DeleteOTP(ctx context.Context, email string) error {
	_, err := d.q.Exec(ctx, `DELETE FROM email_otps WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

// ---- refresh tokens ----

func (d *DB) CreateRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by_token_id, created_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`, t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.RevokedAt, t.ReplacedByTokenID, t.CreatedAt, t.UserAgent, t.IP)
	return mapWriteErr(err, "insert refresh token")
}

func (d *DB) RefreshTokenByID(ctx context.Context, id string) (*store.RefreshToken, error) {
	return d.scanToken(d.q.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by_token_id, created_at,
		       COALESCE(user_agent, ''), COALESCE(ip, '')
		FROM refresh_tokens WHERE id = $1
	`, id))
}

func (d *DB) RecentRefreshTokens(ctx context.Context, limit int) ([]*store.RefreshToken, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by_token_id, created_at,
		       COALESCE(user_agent, ''), COALESCE(ip, '')
		FROM refresh_tokens
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent refresh tokens: %w", err)
	}
	defer rows.Close()

	var out []*store.RefreshToken
	for rows.Next() {
		t, err := d.scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return out, nil
}

func (d *DB) scanToken(row pgx.Row) (*store.RefreshToken, error) {
	var t store.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedByTokenID,
		&t.CreatedAt, &t.UserAgent, &t.IP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &t, nil
}

func (d *DB) RevokeRefreshToken(ctx context.Context, id string, at time.Time) error {
	_, err := d.q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken persists next and marks the old record replaced in
// one transaction. The revoked_at IS NULL guard is the compare-and-swap
// that makes concurrent rotations on the same secret fail closed.
func (d *DB) RotateRefreshToken(ctx context.Context, oldID string, at time.Time, next *store.RefreshToken) error {
	return d.WithinTx(ctx, func(tx store.Store) error {
		txdb := tx.(*DB)

		tag, err := txdb.q.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2, replaced_by_token_id = $3
			WHERE id = $1 AND revoked_at IS NULL
		`, oldID, at, next.ID)
		if err != nil {
			return fmt.Errorf("rotate refresh token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := txdb.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, oldID).Scan(&exists); err != nil {
				return fmt.Errorf("rotate refresh token: %w", err)
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrAlreadyRevoked
		}

		return txdb.CreateRefreshToken(ctx, next)
	})
}

// ---- linked identities ----

func (d *DB) CreateIdentity(ctx context.Context, li *store.LinkedIdentity) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO user_identities (id, user_id, provider, provider_user_id, email_from_provider, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, li.ID, li.UserID, li.Provider, li.ProviderUserID, li.EmailFromProvider, li.CreatedAt)
	return mapWriteErr(err, "insert identity")
}

func (d *DB) IdentityByProviderUser(ctx context.Context, provider store.Provider, providerUserID string) (*store.LinkedIdentity, error) {
	var li store.LinkedIdentity
	err := d.q.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_user_id, COALESCE(email_from_provider, ''), created_at
		FROM user_identities
		WHERE provider = $1 AND provider_user_id = $2
	`, provider, providerUserID).Scan(&li.ID, &li.UserID, &li.Provider, &li.ProviderUserID, &li.EmailFromProvider, &li.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return &li, nil
}

// ---- unit of work ----

func (d *DB) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	if _, nested := d.q.(pgx.Tx); nested {
		return fn(d)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&DB{pool: d.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
