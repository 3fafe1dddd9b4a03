package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/naballard/authflow/federation"
	"github.com/naballard/authflow/internal"
	"github.com/naballard/authflow/store"
)

// FederatedLogin exchanges a provider access token for a session.
// First contact with a (provider, providerUserID) pair either creates
// a fresh account or, when the provider's email already belongs to an
// account, fails: identities are never silently linked onto existing
// accounts.
func (e *Engine) FederatedLogin(ctx context.Context, provider Provider, accessToken string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.profiles == nil {
		return nil, ErrUnsupportedProvider
	}

	profile, err := e.profiles.Fetch(ctx, provider, accessToken)
	if err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		cause := translateFederationErr(err)
		e.emitAudit(ctx, auditEventFederatedFailure, false, "", "", cause, providerMeta(provider))
		return nil, cause
	}

	identity, err := e.store.IdentityByProviderUser(ctx, provider, profile.ProviderUserID)
	switch {
	case err == nil:
		return e.federatedReturning(ctx, provider, identity)
	case errors.Is(err, store.ErrNotFound):
		return e.federatedFirstContact(ctx, provider, profile)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// federatedReturning is the repeat-login path: the identity is already
// bound to a local account.
func (e *Engine) federatedReturning(ctx context.Context, provider Provider, identity *store.LinkedIdentity) (*Session, error) {
	user, err := e.store.UserByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricFederatedLoginFailure)
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := statusToError(user.Status); err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		e.emitAudit(ctx, auditEventFederatedFailure, false, user.ID, "", err, providerMeta(provider))
		return nil, err
	}

	session, err := e.issueSession(ctx, e.store, user)
	if err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		return nil, err
	}

	e.metricInc(MetricFederatedLoginSuccess)
	e.emitAudit(ctx, auditEventFederatedSuccess, true, user.ID, session.TokenID, nil, providerMeta(provider))

	return session, nil
}

// federatedFirstContact creates the account and identity binding in
// one unit of work.
func (e *Engine) federatedFirstContact(ctx context.Context, provider Provider, profile federation.Profile) (*Session, error) {
	email := normalizeEmail(profile.Email)
	if email == "" {
		e.metricInc(MetricFederatedLoginFailure)
		e.emitAudit(ctx, auditEventFederatedFailure, false, "", "", ErrSocialEmailRequired, providerMeta(provider))
		return nil, ErrSocialEmailRequired
	}

	if _, err := e.store.UserByEmail(ctx, email); err == nil {
		// The email belongs to an existing account without this
		// identity. Refuse rather than link: provider-asserted emails
		// are not proof of account ownership.
		e.metricInc(MetricFederatedLoginFailure)
		e.emitAudit(ctx, auditEventFederatedFailure, false, "", "", ErrEmailAlreadyRegistered, providerMeta(provider))
		return nil, ErrEmailAlreadyRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := e.now()
	user := &store.User{
		ID:        uuid.NewString(),
		Email:     email,
		Username:  internal.DeriveUsername(profile.Login, email, string(provider), profile.ProviderUserID),
		Name:      profile.Name,
		Lastname:  profile.Lastname,
		AvatarURL: profile.AvatarURL,
		Status:    store.UserActive,
		Role:      "user",
		CreatedAt: now,
	}

	var session *Session
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		identity := &store.LinkedIdentity{
			ID:                uuid.NewString(),
			UserID:            user.ID,
			Provider:          provider,
			ProviderUserID:    profile.ProviderUserID,
			EmailFromProvider: email,
			CreatedAt:         now,
		}
		if err := tx.CreateIdentity(ctx, identity); err != nil {
			return err
		}

		s, err := e.issueSession(ctx, tx, user)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		e.metricInc(MetricFederatedLoginFailure)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailAlreadyRegistered
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricFederatedLoginSuccess)
	e.emitAudit(ctx, auditEventFederatedSuccess, true, user.ID, session.TokenID, nil, func() map[string]string {
		return map[string]string{"provider": string(provider), "first_contact": "true"}
	})

	return session, nil
}

func translateFederationErr(err error) error {
	switch {
	case errors.Is(err, federation.ErrUnsupportedProvider):
		return ErrUnsupportedProvider
	case errors.Is(err, federation.ErrTokenRejected):
		return ErrProviderTokenRejected
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func providerMeta(provider Provider) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"provider": string(provider)}
	}
}
