package authflow

import "errors"

var (
	// ErrEmailAlreadyRegistered is returned when the email is taken by
	// an existing account, including federation-only accounts.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrOTPResendLimit is returned when the pending code has been
	// resent the maximum number of times.
	ErrOTPResendLimit = errors.New("verification code resend limit reached")
	// ErrOTPCooldown is returned when a resend is requested before the
	// cooldown since the last send has elapsed.
	ErrOTPCooldown = errors.New("verification code recently sent")
	// ErrOTPNotFound is returned when no pending code exists for the
	// email.
	ErrOTPNotFound = errors.New("verification code not found")
	// ErrOTPLocked is returned while the pending code is locked after
	// too many failed attempts.
	ErrOTPLocked = errors.New("verification code locked")
	// ErrOTPExpired is returned when the pending code's TTL has passed.
	ErrOTPExpired = errors.New("verification code expired")
	// ErrOTPInvalid is returned when the submitted code does not match.
	ErrOTPInvalid = errors.New("invalid verification code")
	// ErrEmailSendFailed is returned when the mail provider fails; the
	// pending code is kept so a later resend can succeed.
	ErrEmailSendFailed = errors.New("email send failed")
	// ErrInvalidCredentials is returned for a wrong password or an
	// unknown email, without distinguishing the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordLoginUnsupported is returned when the account exists
	// but was created through an identity provider and has no password.
	ErrPasswordLoginUnsupported = errors.New("password login not configured for account")
	// ErrUserNotFound is returned when a referenced account does not
	// exist or is deleted.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountSuspended is returned when the account is suspended.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrRefreshTokenInvalid is returned when the presented refresh
	// secret matches no live token record.
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired is returned when the matched token record
	// has passed its TTL.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrRefreshTokenReused is returned when an already-rotated secret
	// is presented; the whole descendant chain is revoked.
	ErrRefreshTokenReused = errors.New("refresh token reuse detected")
	// ErrSocialEmailRequired is returned when the identity provider did
	// not disclose a usable email address.
	ErrSocialEmailRequired = errors.New("identity provider did not supply an email")
	// ErrUnsupportedProvider is returned for providers outside the
	// known set.
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	// ErrProviderTokenRejected is returned when the provider refuses
	// the presented access token.
	ErrProviderTokenRejected = errors.New("provider rejected access token")
	// ErrTokenInvalid is returned for malformed, forged, or expired
	// access tokens.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrPermissionDenied is returned when the caller's role lacks a
	// required scope.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimited is returned when a request budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps backend failures (store, Redis, providers).
	ErrUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Code maps an engine error to its stable machine-readable code, for
// API layers that translate errors to wire responses. Unknown errors
// map to "INTERNAL_ERROR"; nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return "EMAIL_ALREADY_REGISTERED"
	case errors.Is(err, ErrOTPResendLimit):
		return "OTP_RESEND_LIMIT"
	case errors.Is(err, ErrOTPCooldown):
		return "OTP_COOLDOWN"
	case errors.Is(err, ErrOTPNotFound):
		return "OTP_NOT_FOUND"
	case errors.Is(err, ErrOTPLocked):
		return "OTP_LOCKED"
	case errors.Is(err, ErrOTPExpired):
		return "OTP_EXPIRED"
	case errors.Is(err, ErrOTPInvalid):
		return "OTP_INVALID"
	case errors.Is(err, ErrEmailSendFailed):
		return "EMAIL_SEND_FAILED"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrPasswordLoginUnsupported):
		return "PASSWORD_LOGIN_UNSUPPORTED"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrAccountSuspended):
		return "ACCOUNT_SUSPENDED"
	case errors.Is(err, ErrRefreshTokenInvalid):
		return "REFRESH_TOKEN_INVALID"
	case errors.Is(err, ErrRefreshTokenExpired):
		return "REFRESH_TOKEN_EXPIRED"
	case errors.Is(err, ErrRefreshTokenReused):
		return "REFRESH_TOKEN_REUSED"
	case errors.Is(err, ErrSocialEmailRequired):
		return "SOCIAL_EMAIL_REQUIRED"
	case errors.Is(err, ErrUnsupportedProvider):
		return "UNSUPPORTED_PROVIDER"
	case errors.Is(err, ErrProviderTokenRejected):
		return "PROVIDER_TOKEN_REJECTED"
	case errors.Is(err, ErrTokenInvalid):
		return "TOKEN_INVALID"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrUnavailable):
		return "BACKEND_UNAVAILABLE"
	case errors.Is(err, ErrEngineNotReady):
		return "ENGINE_NOT_READY"
	default:
		return "INTERNAL_ERROR"
	}
}
