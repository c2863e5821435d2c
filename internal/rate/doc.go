// Package rate implements the sliding-window attempt throttle used by the
// login and register flows.
//
// # Window semantics
//
// Each key "{identifier}:{action}" holds the timestamps of failed attempts.
// A check first drops timestamps older than the action's window, then
// compares the remainder to the action's budget. A blocked check reports
// retryAfter = window - (now - earliest remaining), clamped at zero.
//
// Two backends exist: [MemoryBackend] (per-key locks, the default) and
// [RedisBackend] (one sorted set per key, scores in microseconds).
//
// # What this package must NOT do
//
//   - Track per-account lockout (that lives in internal/limiters).
//   - Be imported outside the authcore module.
package rate
