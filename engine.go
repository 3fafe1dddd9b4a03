package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/naballard/authflow/federation"
	"github.com/naballard/authflow/internal"
	"github.com/naballard/authflow/jwt"
	"github.com/naballard/authflow/mail"
	"github.com/naballard/authflow/password"
	"github.com/naballard/authflow/rate"
	"github.com/naballard/authflow/scope"
	"github.com/naballard/authflow/store"
)

// Engine orchestrates all credential and session flows. Construct one
// through [Builder.Build]; all methods are then safe for concurrent
// use.
type Engine struct {
	config Config

	store        store.Store
	scopes       *scope.Table
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	mailer       mail.Sender
	profiles     federation.ProfileFetcher
	rateLimiter  *rate.Limiter

	audit   *auditDispatcher
	metrics *Metrics

	// now is the engine's clock, swapped out in tests.
	now func() time.Time
}

// Close flushes and stops the audit dispatcher. The engine must not
// be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because
// the dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// ValidateAccess verifies an access token offline and returns the
// caller's identity. No store round-trip is performed.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return &AuthResult{
		UserID:  claims.Subject,
		Role:    scope.Role(claims.Role),
		TokenID: claims.ID,
	}, nil
}

// Authorize validates the access token and checks that its role grants
// every required scope. Returns ErrPermissionDenied when it does not.
func (e *Engine) Authorize(ctx context.Context, tokenStr string, required ...scope.Scope) (*AuthResult, error) {
	res, err := e.ValidateAccess(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	if !e.scopes.Allowed(res.Role, required...) {
		e.metricInc(MetricPermissionDenied)
		return nil, fmt.Errorf("%w: role %q", ErrPermissionDenied, res.Role)
	}

	return res, nil
}

// Allowed reports whether role grants every required scope, without
// touching a token. Unknown roles and scopes deny.
func (e *Engine) Allowed(role scope.Role, required ...scope.Scope) bool {
	if e == nil {
		return false
	}
	return e.scopes.Allowed(role, required...)
}

// Scopes returns the scopes granted to role, for introspection.
func (e *Engine) Scopes(role scope.Role) []scope.Scope {
	if e == nil {
		return nil
	}
	return e.scopes.Scopes(role)
}

// issueSession mints the access/refresh pair for user against st,
// which is either the root store or a transaction view.
func (e *Engine) issueSession(ctx context.Context, st store.Store, user *store.User) (*Session, error) {
	now := e.now()
	tokenID := uuid.NewString()

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := &store.RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		TokenHash: internal.HashSecret(secret),
		ExpiresAt: now.Add(e.config.Refresh.TTL),
		CreatedAt: now,
		UserAgent: userAgentFromContext(ctx),
		IP:        clientIPFromContext(ctx),
	}
	if err := st.CreateRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	access, err := e.jwtManager.CreateAccess(user.ID, tokenID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricSessionIssued)

	return &Session{
		UserID:           user.ID,
		Role:             scope.Role(user.Role),
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshSecret:    secret,
		RefreshExpiresAt: record.ExpiresAt,
		TokenID:          tokenID,
	}, nil
}

// SetUserStatus changes an account's lifecycle status. A suspended or
// deleted account keeps its outstanding access tokens until they
// expire, but every login and refresh path refuses it immediately.
func (e *Engine) SetUserStatus(ctx context.Context, userID string, status store.UserStatus) error {
	if e == nil {
		return ErrEngineNotReady
	}
	switch status {
	case store.UserActive, store.UserSuspended, store.UserDeleted:
	default:
		return fmt.Errorf("unknown user status %q", status)
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	user.Status = status
	if err := e.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// statusToError gates login paths on account status.
func statusToError(status store.UserStatus) error {
	switch status {
	case store.UserActive:
		return nil
	case store.UserSuspended:
		return ErrAccountSuspended
	case store.UserDeleted:
		return ErrUserNotFound
	default:
		return ErrUserNotFound
	}
}
