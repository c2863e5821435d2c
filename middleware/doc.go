// Package middleware maps HTTP requests onto authcore sessions.
//
// # Guards
//
//   - [ClientInfo] copies the client IP and User-Agent into the request
//     context so Login and Register can rate limit and audit per client.
//   - [Guard] requires a valid bearer session token.
//   - [RequireAdmin] additionally requires the administrator role.
//
// Guards inject the validated claims into the request context; read them
// with [ClaimsFromContext].
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Make authorization decisions beyond pass/reject and the admin role.
package middleware
