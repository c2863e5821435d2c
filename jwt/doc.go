// Package jwt signs and verifies session tokens.
//
// Tokens carry [SessionClaims]: session id, user id, username, role, client
// IP and user agent plus iat/exp. HS256 is the default; Ed25519 is
// supported for deployments that verify tokens outside this process.
// Validation is stateless here; revocation is the session package's job.
package jwt
