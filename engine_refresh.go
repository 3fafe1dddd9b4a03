package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/naballard/authflow/internal"
	"github.com/naballard/authflow/scope"
	"github.com/naballard/authflow/store"
)

// Refresh rotates a refresh secret: the matched token record is revoked
// and replaced by a fresh one, and a new access token is minted.
// Presenting an already-rotated secret is treated as theft evidence and
// revokes every live descendant of the matched record.
func (e *Engine) Refresh(ctx context.Context, refreshSecret string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if refreshSecret == "" {
		return nil, ErrRefreshTokenInvalid
	}

	matched, err := e.findTokenBySecret(ctx, refreshSecret, e.config.Refresh.ScanWindow)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshTokenInvalid, nil)
		return nil, ErrRefreshTokenInvalid
	}

	now := e.now()

	if matched.RevokedAt != nil {
		return nil, e.refreshReused(ctx, matched, now)
	}

	if !now.Before(matched.ExpiresAt) {
		e.revokeBestEffort(ctx, matched.ID, now)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, matched.UserID, matched.ID, ErrRefreshTokenExpired, nil)
		return nil, ErrRefreshTokenExpired
	}

	user, err := e.store.UserByID(ctx, matched.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.revokeBestEffort(ctx, matched.ID, now)
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := statusToError(user.Status); err != nil {
		e.revokeBestEffort(ctx, matched.ID, now)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, user.ID, matched.ID, err, nil)
		return nil, err
	}

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	next := &store.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: internal.HashSecret(secret),
		ExpiresAt: now.Add(e.config.Refresh.TTL),
		CreatedAt: now,
		UserAgent: userAgentFromContext(ctx),
		IP:        clientIPFromContext(ctx),
	}

	if err := e.store.RotateRefreshToken(ctx, matched.ID, now, next); err != nil {
		if errors.Is(err, store.ErrAlreadyRevoked) {
			// A concurrent rotation won the compare-and-swap; this
			// presentation is now a replay of a rotated secret.
			return nil, e.refreshReused(ctx, matched, now)
		}
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	access, err := e.jwtManager.CreateAccess(user.ID, next.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, next.ID, nil, func() map[string]string {
		return map[string]string{"rotated_from": matched.ID}
	})

	return &Session{
		UserID:           user.ID,
		Role:             scope.Role(user.Role),
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshSecret:    secret,
		RefreshExpiresAt: next.ExpiresAt,
		TokenID:          next.ID,
	}, nil
}

// Logout revokes the token record matching the presented secret.
// Unknown and already-revoked secrets succeed silently: logout is
// idempotent and never an oracle.
func (e *Engine) Logout(ctx context.Context, refreshSecret string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if refreshSecret == "" {
		return nil
	}

	matched, err := e.findTokenBySecret(ctx, refreshSecret, e.config.Refresh.LogoutScanWindow)
	if err != nil {
		return err
	}
	if matched == nil || matched.RevokedAt != nil {
		return nil
	}

	if err := e.store.RevokeRefreshToken(ctx, matched.ID, e.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, matched.UserID, matched.ID, nil, nil)

	return nil
}

// revokeBestEffort revokes a token on a rejection path. The caller
// rejects the presentation either way; a failed revocation is counted
// so a cleanup that did not land is still visible.
func (e *Engine) revokeBestEffort(ctx context.Context, tokenID string, now time.Time) {
	if err := e.store.RevokeRefreshToken(ctx, tokenID, now); err != nil {
		e.metricInc(MetricRevokeFailed)
	}
}

// findTokenBySecret compares the secret's hash against the most recent
// window of token records. The comparison is constant time per record;
// the window bounds the work an attacker can trigger.
func (e *Engine) findTokenBySecret(ctx context.Context, secret string, window int) (*store.RefreshToken, error) {
	recent, err := e.store.RecentRefreshTokens(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, t := range recent {
		if internal.SecretMatches(t.TokenHash, secret) {
			return t, nil
		}
	}
	return nil, nil
}

// refreshReused handles presentation of a rotated secret: every live
// descendant of the matched record is revoked so the stolen chain dies
// with it.
func (e *Engine) refreshReused(ctx context.Context, matched *store.RefreshToken, now time.Time) error {
	revoked, err := e.revokeChainFrom(ctx, matched, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, matched.UserID, matched.ID, ErrRefreshTokenReused, func() map[string]string {
		return map[string]string{"descendants_revoked": fmt.Sprint(revoked)}
	})

	return ErrRefreshTokenReused
}

// revokeChainFrom walks replaced-by links from start, revoking each
// unrevoked descendant. The walk is bounded and cycle tolerant so a
// corrupted chain cannot wedge the engine.
func (e *Engine) revokeChainFrom(ctx context.Context, start *store.RefreshToken, now time.Time) (int, error) {
	revoked := 0
	seen := map[string]bool{start.ID: true}
	current := start

	for hops := 0; hops < e.config.Refresh.ChainRevokeLimit; hops++ {
		if current.ReplacedByTokenID == nil {
			break
		}
		nextID := *current.ReplacedByTokenID
		if seen[nextID] {
			break
		}
		seen[nextID] = true

		next, err := e.store.RefreshTokenByID(ctx, nextID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return revoked, err
		}

		if next.RevokedAt == nil {
			if err := e.store.RevokeRefreshToken(ctx, next.ID, now); err != nil {
				return revoked, err
			}
			revoked++
		}
		current = next
	}

	return revoked, nil
}
