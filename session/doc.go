// Package session owns the in-memory session table.
//
// Validation is hybrid: [Manager.Validate] first checks the token's
// signature and expiry, then requires the session id to be present in the
// table, so removing a record revokes an otherwise valid token. The table is
// split into shards with their own locks; operations on different sessions
// rarely contend, operations on one session are serialized.
//
// # What this package must NOT do
//
//   - Import authcore (no upward imports).
//   - Persist sessions; they live only in process memory.
//   - Make account-level policy decisions.
package session
