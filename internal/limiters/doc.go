// Package limiters holds per-account lockout logic.
//
// [Lockout] is a pure transition function over [LockState]; the counter and
// lock timestamp are persisted by the caller's user store. The network-level
// attempt throttle is a separate counter space in internal/rate.
//
// # What this package must NOT do
//
//   - Persist state or talk to a store.
//   - Import authcore or any sibling internal package.
package limiters
