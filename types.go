package authflow

import (
	"time"

	"github.com/naballard/authflow/scope"
	"github.com/naballard/authflow/store"
)

// Session is the result of a successful login, registration, federated
// login, or refresh. RefreshSecret is the only copy of the opaque
// refresh credential; the store keeps a hash.
type Session struct {
	UserID           string
	Role             scope.Role
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
	// TokenID identifies the refresh-token record backing this
	// session. It also appears as the access token's jti claim.
	TokenID string
}

// AuthResult is the outcome of access-token validation.
type AuthResult struct {
	UserID  string
	Role    scope.Role
	TokenID string
}

// RegisterInput carries the fields collected during OTP verification
// that complete account creation.
type RegisterInput struct {
	Email    string
	Code     string
	Password string
	Username string
	Name     string
	Lastname string
}

// Provider re-exports the identity-provider enum for callers that only
// import the root package.
type Provider = store.Provider

const (
	ProviderGoogle   = store.ProviderGoogle
	ProviderFacebook = store.ProviderFacebook
	ProviderGitHub   = store.ProviderGitHub
)
