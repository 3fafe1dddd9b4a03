package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/naballard/authflow/store"
)

// Login authenticates an email/password pair and issues a session.
// Unknown emails and wrong passwords both fail with
// ErrInvalidCredentials; accounts created through an identity provider
// fail with ErrPasswordLoginUnsupported.
func (e *Engine) Login(ctx context.Context, email, pass string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", nil)
			return nil, fmt.Errorf("%w: login attempts", ErrRateLimited)
		}
	}

	user, err := e.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.loginFailed(ctx, email, ip, "", ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := statusToError(user.Status); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", err, nil)
		return nil, err
	}

	cred, err := e.store.CredentialByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrPasswordLoginUnsupported, nil)
			return nil, ErrPasswordLoginUnsupported
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := e.passwordHash.Verify(pass, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, email, ip, user.ID, ErrInvalidCredentials)
	}

	if e.rateLimiter != nil {
		// Best effort; a stale counter only shortens the budget.
		_ = e.rateLimiter.ResetLogin(ctx, email, ip)
	}

	if e.config.Password.UpgradeOnLogin {
		e.maybeUpgradeHash(ctx, cred, pass)
	}

	session, err := e.issueSession(ctx, e.store, user)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, session.TokenID, nil, nil)

	return session, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, ip, userID string, cause error) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", nil)
			return fmt.Errorf("%w: login attempts", ErrRateLimited)
		}
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", cause, nil)
	return cause
}

// maybeUpgradeHash transparently re-hashes the password when the
// stored credential predates a parameter bump. Failures are ignored;
// the old hash keeps working.
func (e *Engine) maybeUpgradeHash(ctx context.Context, cred *store.PasswordCredential, pass string) {
	upgrade, err := e.passwordHash.NeedsUpgrade(cred.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	newHash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	cred.PasswordHash = newHash
	_ = e.store.UpdateCredential(ctx, cred)
}
