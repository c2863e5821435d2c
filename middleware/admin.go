package middleware

import (
	"net/http"

	"github.com/zenithlabs/authcore"
)

// RequireAdmin is Guard plus a role check: valid sessions without
// adminRole get 403. An empty adminRole means authcore.RoleAdministrator.
func RequireAdmin(v SessionValidator, adminRole string) func(http.Handler) http.Handler {
	if adminRole == "" {
		adminRole = authcore.RoleAdministrator
	}
	return guard(v, func(c *authcore.SessionClaims) bool {
		return c.Role == adminRole
	})
}
