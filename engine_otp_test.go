package authflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/naballard/authflow/store"
)

func TestRegistrationHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	err := env.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.com",
		Code:     env.mailer.lastCode("alice@example.com"),
		Password: "correct horse battery",
		Name:     "Alice",
		Lastname: "Example",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Registration creates the account but never a session.
	u, err := env.store.UserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}
	if u.Role != "user" {
		t.Fatalf("role = %q, want user", u.Role)
	}
	tokens, err := env.store.RecentRefreshTokens(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRefreshTokens: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("registration issued %d refresh tokens, want 0", len(tokens))
	}

	// The pending code is consumed.
	if _, err := env.store.OTPByEmail(ctx, "alice@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending code survived registration: %v", err)
	}

	// The first session comes from an explicit login.
	session, err := env.engine.Login(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	res, err := env.engine.ValidateAccess(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if res.UserID != u.ID || res.TokenID != session.TokenID {
		t.Fatalf("claims mismatch: %+v vs session %+v", res, session)
	}
}

func TestRegisterChosenUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "john@example.com"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	err := env.engine.Register(ctx, RegisterInput{
		Email:    "john@example.com",
		Code:     env.mailer.lastCode("john@example.com"),
		Password: "correct horse battery",
		Username: "johnny_b",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	u, err := env.store.UserByEmail(ctx, "john@example.com")
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}
	if u.Username != "johnny_b" {
		t.Fatalf("username = %q, want johnny_b", u.Username)
	}

	// Omitting the username falls back to the email local part.
	if err := env.engine.RequestOTP(ctx, "john@other.org"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	err = env.engine.Register(ctx, RegisterInput{
		Email:    "john@other.org",
		Code:     env.mailer.lastCode("john@other.org"),
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	u2, err := env.store.UserByEmail(ctx, "john@other.org")
	if err != nil {
		t.Fatalf("user lookup: %v", err)
	}
	if u2.Username != "john" {
		t.Fatalf("derived username = %q, want john", u2.Username)
	}
}

func TestRequestOTPExistingEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")

	err := env.engine.RequestOTP(context.Background(), "Alice@Example.com")
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestRequestOTPCooldownAndResendLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "bob@example.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Inside the cooldown window.
	if err := env.engine.RequestOTP(ctx, "bob@example.com"); !errors.Is(err, ErrOTPCooldown) {
		t.Fatalf("err = %v, want ErrOTPCooldown", err)
	}

	// The first send counts against the budget, so MaxResends-1
	// resends remain.
	for i := 0; i < env.engine.config.OTP.MaxResends-1; i++ {
		env.clock.Advance(env.engine.config.OTP.ResendCooldown)
		if err := env.engine.RequestOTP(ctx, "bob@example.com"); err != nil {
			t.Fatalf("resend %d: %v", i+1, err)
		}
	}

	env.clock.Advance(env.engine.config.OTP.ResendCooldown)
	if err := env.engine.RequestOTP(ctx, "bob@example.com"); !errors.Is(err, ErrOTPResendLimit) {
		t.Fatalf("err = %v, want ErrOTPResendLimit", err)
	}
	if got := env.mailer.count("bob@example.com"); got != env.engine.config.OTP.MaxResends {
		t.Fatalf("sent %d codes, want %d", got, env.engine.config.OTP.MaxResends)
	}
}

func TestRequestOTPResendInvalidatesPreviousCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "bob@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	firstCode := env.mailer.lastCode("bob@example.com")

	env.clock.Advance(env.engine.config.OTP.ResendCooldown)
	if err := env.engine.RequestOTP(ctx, "bob@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}

	err := env.engine.Register(ctx, RegisterInput{
		Email:    "bob@example.com",
		Code:     firstCode,
		Password: "correct horse battery",
	})
	if !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("stale code accepted: %v", err)
	}
}

func TestRequestOTPResendBudgetPersistsPastExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < env.engine.config.OTP.MaxResends; i++ {
		if err := env.engine.RequestOTP(ctx, "bob@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		env.clock.Advance(env.engine.config.OTP.ResendCooldown)
	}

	// Budget exhausted.
	if err := env.engine.RequestOTP(ctx, "bob@example.com"); !errors.Is(err, ErrOTPResendLimit) {
		t.Fatalf("err = %v, want ErrOTPResendLimit", err)
	}

	// Expiry of the challenge does not hand the address a fresh
	// budget; the exhausted row still blocks.
	env.clock.Advance(env.engine.config.OTP.TTL + time.Second)
	if err := env.engine.RequestOTP(ctx, "bob@example.com"); !errors.Is(err, ErrOTPResendLimit) {
		t.Fatalf("err = %v, want ErrOTPResendLimit after expiry", err)
	}
}

func TestRegisterWrongCodeLocksAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "carol@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}

	in := RegisterInput{Email: "carol@example.com", Code: "000000", Password: "correct horse battery"}
	for i := 0; i < env.engine.config.OTP.MaxAttempts-1; i++ {
		if err := env.engine.Register(ctx, in); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("attempt %d: err = %v, want ErrOTPInvalid", i+1, err)
		}
	}

	// The final failed attempt locks the challenge.
	if err := env.engine.Register(ctx, in); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("err = %v, want ErrOTPLocked", err)
	}

	// Even the correct code is refused while locked.
	in.Code = env.mailer.lastCode("carol@example.com")
	if err := env.engine.Register(ctx, in); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("locked challenge accepted correct code: %v", err)
	}

	// A reissue is allowed while the lock is live and replaces the
	// locked challenge with a clean one.
	env.clock.Advance(env.engine.config.OTP.ResendCooldown)
	if err := env.engine.RequestOTP(ctx, "carol@example.com"); err != nil {
		t.Fatalf("request while locked: %v", err)
	}
	in.Code = env.mailer.lastCode("carol@example.com")
	if err := env.engine.Register(ctx, in); err != nil {
		t.Fatalf("register with reissued code: %v", err)
	}
	if _, err := env.engine.Login(ctx, "carol@example.com", "correct horse battery"); err != nil {
		t.Fatalf("login after registration: %v", err)
	}
}

func TestRegisterExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "dave@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	code := env.mailer.lastCode("dave@example.com")

	env.clock.Advance(env.engine.config.OTP.TTL + time.Second)

	err := env.engine.Register(ctx, RegisterInput{
		Email:    "dave@example.com",
		Code:     code,
		Password: "correct horse battery",
	})
	if !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("err = %v, want ErrOTPExpired", err)
	}
}

func TestRegisterNoPendingCode(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.Register(context.Background(), RegisterInput{
		Email:    "nobody@example.com",
		Code:     "123456",
		Password: "correct horse battery",
	})
	if !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("err = %v, want ErrOTPNotFound", err)
	}
}

func TestRequestOTPMailFailureKeepsChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mailer.failNext = true
	err := env.engine.RequestOTP(ctx, "eve@example.com")
	if !errors.Is(err, ErrEmailSendFailed) {
		t.Fatalf("err = %v, want ErrEmailSendFailed", err)
	}

	// The row was written before the send, so a retry after the
	// cooldown succeeds as a resend.
	if _, err := env.store.OTPByEmail(ctx, "eve@example.com"); err != nil {
		t.Fatalf("challenge row missing after send failure: %v", err)
	}
	env.clock.Advance(env.engine.config.OTP.ResendCooldown)
	if err := env.engine.RequestOTP(ctx, "eve@example.com"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRegisterEmailNormalization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.RequestOTP(ctx, "  Frank@Example.COM "); err != nil {
		t.Fatalf("request: %v", err)
	}

	err := env.engine.Register(ctx, RegisterInput{
		Email:    "frank@example.com",
		Code:     env.mailer.lastCode("frank@example.com"),
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := env.store.UserByEmail(ctx, "frank@example.com"); err != nil {
		t.Fatalf("user lookup: %v", err)
	}
}
