// Package middleware exposes HTTP adapters for access-token
// enforcement built on top of authflow.Engine validation.
//
// # Guards
//
//   - [Guard] — verifies the bearer token.
//   - [RequireScopes] — verifies the bearer token and the caller's
//     role grants.
//
// Each guard reads the Authorization header, calls the engine, and
// injects the validated result into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does
// NOT implement authentication logic itself; all decisions are
// delegated to the engine.
package middleware
