// Package authflow provides an embeddable credential and session
// lifecycle engine: email OTP registration, password login, rotating
// opaque refresh tokens with reuse detection, federated login through
// external identity providers, and role-scope authorization.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authflow is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (Session, AuthResult, AuditEvent). Flow
// orchestration lives in the engine files; storage, hashing, token
// signing, rate limiting, mail delivery, and provider profile fetching
// live in sub-packages behind narrow interfaces.
//
// # What this package must NOT do
//
//   - Expose database handles, Redis clients, or hash encodings in its
//     public API.
//   - Perform I/O during construction (Builder is allocation-only
//     until Build).
//   - Store any secret (passwords, OTP codes, refresh secrets) in
//     recoverable form.
//
// # Performance contract
//
// ValidateAccess is the hot path. It verifies the JWT signature and
// claims without touching the store. Login, Refresh, and registration
// operations are allowed store round-trips.
package authflow
