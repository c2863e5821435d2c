package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenithlabs/authcore"
)

type fakeValidator map[string]*authcore.SessionClaims

func (f fakeValidator) ValidateSession(_ context.Context, token string) (*authcore.SessionClaims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, authcore.ErrSessionInvalid
}

var sessions = fakeValidator{
	"user-token":  {SID: "s1", UID: "u1", Username: "alice", Role: authcore.RoleChatUser},
	"admin-token": {SID: "s2", UID: "u2", Username: "admin", Role: authcore.RoleAdministrator},
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(claims.Username))
	})
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	h := Guard(sessions)(echoUser(t))

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid token", "Bearer user-token", http.StatusOK, "alice"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic user-token", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer forged", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.header)
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestGuardNilValidator(t *testing.T) {
	rec := serve(Guard(nil)(echoUser(t)), "Bearer user-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(sessions, "")(echoUser(t))

	assert.Equal(t, http.StatusOK, serve(h, "Bearer admin-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "Bearer user-token").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "Bearer forged").Code)
}

func TestClientInfo(t *testing.T) {
	var gotIP string
	h := ClientInfo(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = authcore.ClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.10", gotIP)

	h = ClientInfo(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = authcore.ClientIP(r.Context())
	}))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", gotIP)

	req.Header.Set("X-Forwarded-For", "garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "192.0.2.10", gotIP)
}
