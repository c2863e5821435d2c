// Package internal contains helpers private to authcore: session id
// generation and a per-key mutex.
//
// # Sub-packages
//
//   - audit: events, sinks and the async dispatcher
//   - limiters: per-account lockout transitions
//   - rate: sliding-window attempt throttle (memory and Redis backends)
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
