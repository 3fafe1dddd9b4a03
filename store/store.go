// Package store defines the durable-storage contract consumed by the
// engine: the five entity records of the credential lifecycle and the
// Store interface with its transactional unit of work.
//
// Implementations must enforce uniqueness on User.Email, PendingOTP.Email,
// PasswordCredential.UserID, and (Provider, ProviderUserID) for
// LinkedIdentity, surfacing violations as [ErrDuplicate].
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrAlreadyRevoked is returned by RotateRefreshToken when the token
	// being rotated away was revoked by a concurrent rotation. The caller
	// must treat this as reuse and fail closed.
	ErrAlreadyRevoked = errors.New("store: refresh token already revoked")
)

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserDeleted   UserStatus = "deleted"
)

// Provider identifies an external identity provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderGitHub   Provider = "github"
)

// User is the aggregate root. Credentials, refresh tokens, and linked
// identities each reference exactly one User and cascade with it.
type User struct {
	ID        string
	Email     string
	Username  string
	Name      string
	Lastname  string
	AvatarURL string
	Status    UserStatus
	Role      string
	CreatedAt time.Time
}

// PasswordCredential holds the password hash for a user. At most one
// exists per user; federation-only accounts have none.
type PasswordCredential struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// PendingOTP is the single active registration challenge for an email.
// It precedes user existence and is keyed by email alone.
type PendingOTP struct {
	Email       string
	OTPHash     string
	ExpiresAt   time.Time
	Attempts    int
	ResendCount int
	LastSentAt  time.Time
	LockedUntil *time.Time
}

// RefreshToken is one link of a rotation chain. A non-nil
// ReplacedByTokenID implies RevokedAt is set: a rotated token is always
// revoked. Only the chain tail may have a nil RevokedAt.
type RefreshToken struct {
	ID                string
	UserID            string
	TokenHash         string
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	ReplacedByTokenID *string
	CreatedAt         time.Time
	UserAgent         string
	IP                string
}

// LinkedIdentity binds an external (provider, providerUserID) pair to a
// local user. Created only at first federated login for that provider.
type LinkedIdentity struct {
	ID                string
	UserID            string
	Provider          Provider
	ProviderUserID    string
	EmailFromProvider string
	CreatedAt         time.Time
}

// Store is the persistence collaborator. All reads return ErrNotFound
// for missing records; all writes surface uniqueness races as
// ErrDuplicate so the engine can translate them at the write boundary.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateUser rewrites the mutable profile and status fields. The
	// email is immutable; implementations ignore attempts to change it.
	UpdateUser(ctx context.Context, u *User) error

	// Password credentials. UpdateCredential rewrites the hash in
	// place, for transparent cost-parameter upgrades.
	CreateCredential(ctx context.Context, c *PasswordCredential) error
	CredentialByUserID(ctx context.Context, userID string) (*PasswordCredential, error)
	UpdateCredential(ctx context.Context, c *PasswordCredential) error

	// Pending OTPs. SaveOTP upserts: the email uniqueness constraint
	// keeps at most one active record per address.
	OTPByEmail(ctx context.Context, email string) (*PendingOTP, error)
	SaveOTP(ctx context.Context, o *PendingOTP) error
	DeleteOTP(ctx context.Context, email string) error

	// Refresh tokens.
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	RefreshTokenByID(ctx context.Context, id string) (*RefreshToken, error)
	// RecentRefreshTokens returns up to limit records ordered newest
	// first. The engine matches presented secrets against this window.
	RecentRefreshTokens(ctx context.Context, limit int) ([]*RefreshToken, error)
	// RevokeRefreshToken sets revokedAt if the record is not yet
	// revoked; revoking an already-revoked record is a silent no-op.
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) error
	// RotateRefreshToken atomically persists next and marks the old
	// record revoked-and-replaced as of at. If the old record was
	// revoked concurrently it fails with ErrAlreadyRevoked and next is
	// not persisted.
	RotateRefreshToken(ctx context.Context, oldID string, at time.Time, next *RefreshToken) error

	// Linked identities.
	CreateIdentity(ctx context.Context, li *LinkedIdentity) error
	IdentityByProviderUser(ctx context.Context, provider Provider, providerUserID string) (*LinkedIdentity, error)

	// WithinTx runs fn against a transactional view of the store with
	// all-or-nothing commit semantics. Mutations made through tx become
	// visible only if fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
