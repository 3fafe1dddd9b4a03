package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/naballard/authflow/internal"
	"github.com/naballard/authflow/store"
)

// RequestOTP starts or re-drives email registration: it generates a
// fresh verification code for email and delivers it through the
// configured mailer. A previous undelivered or unverified code for the
// same address is replaced, subject to the resend cooldown and cap.
func (e *Engine) RequestOTP(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return ErrOTPInvalid
	}

	if e.rateLimiter != nil && e.config.Security.EnableIPThrottle {
		if err := e.rateLimiter.CheckOTPRequest(ctx, clientIPFromContext(ctx)); err != nil {
			e.emitRateLimit(ctx, "otp_request", nil)
			return fmt.Errorf("%w: verification code requests", ErrRateLimited)
		}
	}

	if _, err := e.store.UserByEmail(ctx, email); err == nil {
		e.metricInc(MetricOTPRequestBlocked)
		return ErrEmailAlreadyRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := e.now()
	resendCount := 1

	// The send budget counts every code issued for the address while a
	// row exists, expired or not. Verify locks do not block a reissue;
	// the replacement row below clears them.
	prev, err := e.store.OTPByEmail(ctx, email)
	switch {
	case err == nil:
		if prev.ResendCount >= e.config.OTP.MaxResends {
			e.metricInc(MetricOTPRequestBlocked)
			return ErrOTPResendLimit
		}
		if now.Sub(prev.LastSentAt) < e.config.OTP.ResendCooldown {
			e.metricInc(MetricOTPRequestBlocked)
			return ErrOTPCooldown
		}
		resendCount = prev.ResendCount + 1
	case errors.Is(err, store.ErrNotFound):
		// First request for this address.
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Persist first, send second: a provider failure leaves a valid
	// undelivered code whose resend path is bounded by the cooldown.
	record := &store.PendingOTP{
		Email:       email,
		OTPHash:     internal.HashSecret(code),
		ExpiresAt:   now.Add(e.config.OTP.TTL),
		Attempts:    0,
		ResendCount: resendCount,
		LastSentAt:  now,
	}
	if err := e.store.SaveOTP(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.mailer.Send(ctx, email, code); err != nil {
		e.metricInc(MetricOTPSendFailed)
		e.emitAudit(ctx, auditEventOTPSendFailed, false, "", "", ErrEmailSendFailed, nil)
		return fmt.Errorf("%w: %v", ErrEmailSendFailed, err)
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, "", "", nil, func() map[string]string {
		return map[string]string{"resend_count": fmt.Sprint(resendCount)}
	})

	return nil
}

// Register verifies the submitted code and, on success, atomically
// consumes it and creates the account with its password credential.
// No tokens are issued; the caller logs in as a separate step.
func (e *Engine) Register(ctx context.Context, in RegisterInput) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email := normalizeEmail(in.Email)
	if email == "" || in.Code == "" {
		return ErrOTPInvalid
	}

	pending, err := e.store.OTPByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricRegistrationFailure)
			return ErrOTPNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := e.now()

	if pending.LockedUntil != nil && now.Before(*pending.LockedUntil) {
		e.metricInc(MetricRegistrationFailure)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, "", "", ErrOTPLocked, nil)
		return ErrOTPLocked
	}
	if !now.Before(pending.ExpiresAt) {
		e.metricInc(MetricRegistrationFailure)
		return ErrOTPExpired
	}

	if !internal.SecretMatches(pending.OTPHash, in.Code) {
		pending.Attempts++
		failErr := ErrOTPInvalid
		if pending.Attempts >= e.config.OTP.MaxAttempts {
			lockedUntil := now.Add(e.config.OTP.LockDuration)
			pending.LockedUntil = &lockedUntil
			failErr = ErrOTPLocked
		}
		if err := e.store.SaveOTP(ctx, pending); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		e.metricInc(MetricRegistrationFailure)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, "", "", failErr, func() map[string]string {
			return map[string]string{"attempts": fmt.Sprint(pending.Attempts)}
		})
		return failErr
	}

	hash, err := e.passwordHash.Hash(in.Password)
	if err != nil {
		e.metricInc(MetricRegistrationFailure)
		return err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = internal.DeriveUsername("", email, "", "")
	}

	user := &store.User{
		ID:        uuid.NewString(),
		Email:     email,
		Username:  username,
		Name:      in.Name,
		Lastname:  in.Lastname,
		Status:    store.UserActive,
		Role:      "user",
		CreatedAt: now,
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteOTP(ctx, email); err != nil {
			return err
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		cred := &store.PasswordCredential{
			ID:           uuid.NewString(),
			UserID:       user.ID,
			PasswordHash: hash,
			CreatedAt:    now,
		}
		return tx.CreateCredential(ctx, cred)
	})
	if err != nil {
		e.metricInc(MetricRegistrationFailure)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrEmailAlreadyRegistered
		}
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistrationSuccess, true, user.ID, "", nil, nil)

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
