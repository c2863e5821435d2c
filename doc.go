// Package authcore is an authentication and session-security core: tagged
// password hashing with online migration, a composable password policy,
// reuse history, sliding-window rate limiting, per-account lockout,
// revocable signed sessions and an append-only audit trail.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserStore] contract and value types ([UserRecord], [LoginResult],
// [MetricsSnapshot]). Rate limiting, lockout arithmetic and audit dispatch
// live under internal/. Persistence is the caller's: the Engine reads and
// writes credentials only through UserStore, and store/sqlite is one
// implementation.
//
// # Login pipeline
//
//	rate limit -> lookup -> lockout -> active -> verify -> must change
//	  -> expiry -> rehash -> record success -> session
//
// The rate check always completes before any KDF work. Lockout is
// checked before verification and a dummy verification keeps the
// unknown-user and locked paths as slow as a real one. Every terminal
// step emits exactly one audit event.
//
// # What this package must NOT do
//
//   - Hold implicit global state. Every Engine is constructed explicitly.
//   - Surface store or infrastructure errors verbatim. Use [PublicMessage]
//     for anything shown to an end user.
//   - Cancel an in-flight hash. Context cancellation reaches store calls only.
package authcore
