package httpserver

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"userauth/auth-service/internal/auth"
)

func newSessionStack(t *testing.T) http.Handler {
	t.Helper()
	return newSessionStackWithHasher(t, auth.NewBcryptHasher(bcrypt.MinCost))
}

func newSessionStackWithHasher(t *testing.T, hasher auth.PasswordHasher) http.Handler {
	t.Helper()
	users := auth.NewInMemoryUserStore()
	sessions := auth.NewSessionRegistry(auth.RegistryConfig{})
	svc, err := auth.NewService(users, auth.ServiceConfig{
		Hasher:   hasher,
		Sessions: sessions,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	return newTestHandler(Deps{
		Auth:          svc,
		Authenticator: auth.NewSessionAuth(sessions, users, "session_id"),
		ExcludedPaths: []string{"/api/v1/status/", "/api/v1/auth_session/login/"},
		SessionName:   "session_id",
	})
}

func withCookie(req *http.Request, c *http.Cookie) *http.Request {
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	return req
}

func TestSessionFlowEndToEnd(t *testing.T) {
	h := newSessionStack(t)
	creds := url.Values{"email": {"ada@example.com"}, "password": {"analytical"}}

	rec := serve(h, formRequest(http.MethodPost, "/users", creds))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, formRequest(http.MethodPost, "/api/v1/auth_session/login/", creds))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := sessionCookie(rec, "session_id")
	require.NotNil(t, cookie)

	rec = serve(h, withCookie(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decodeBody(t, rec)["email"])

	rec = serve(h, withCookie(httptest.NewRequest(http.MethodGet, "/profile", nil), cookie))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, withCookie(httptest.NewRequest(http.MethodDelete, "/api/v1/auth_session/logout", nil), cookie))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, withCookie(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), cookie))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(h, withCookie(httptest.NewRequest(http.MethodGet, "/profile", nil), cookie))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecondLoginInvalidatesFirstCookie(t *testing.T) {
	h := newSessionStack(t)
	creds := url.Values{"email": {"ada@example.com"}, "password": {"analytical"}}
	require.Equal(t, http.StatusOK, serve(h, formRequest(http.MethodPost, "/users", creds)).Code)

	first := sessionCookie(serve(h, formRequest(http.MethodPost, "/sessions", creds)), "session_id")
	second := sessionCookie(serve(h, formRequest(http.MethodPost, "/sessions", creds)), "session_id")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)

	assert.Equal(t, http.StatusForbidden, serve(h, withCookie(httptest.NewRequest(http.MethodGet, "/profile", nil), first)).Code)
	assert.Equal(t, http.StatusOK, serve(h, withCookie(httptest.NewRequest(http.MethodGet, "/profile", nil), second)).Code)
}

func TestPasswordResetEndToEnd(t *testing.T) {
	h := newSessionStack(t)
	creds := url.Values{"email": {"ada@example.com"}, "password": {"analytical"}}
	require.Equal(t, http.StatusOK, serve(h, formRequest(http.MethodPost, "/users", creds)).Code)

	rec := serve(h, formRequest(http.MethodPost, "/reset_password", url.Values{"email": {"ada@example.com"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decodeBody(t, rec)["reset_token"].(string)
	require.NotEmpty(t, token)

	rec = serve(h, formRequest(http.MethodPut, "/reset_password", url.Values{
		"email": {"ada@example.com"}, "reset_token": {token}, "new_password": {"engine"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	// The token is single use.
	rec = serve(h, formRequest(http.MethodPut, "/reset_password", url.Values{
		"email": {"ada@example.com"}, "reset_token": {token}, "new_password": {"again"},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, serve(h, formRequest(http.MethodPost, "/sessions", creds)).Code)
	fresh := url.Values{"email": {"ada@example.com"}, "password": {"engine"}}
	assert.Equal(t, http.StatusOK, serve(h, formRequest(http.MethodPost, "/sessions", fresh)).Code)
}

// countingHasher counts Verify calls on the wrapped hasher.
type countingHasher struct {
	auth.PasswordHasher
	verifies int
}

func (h *countingHasher) Verify(hash, password string) bool {
	h.verifies++
	return h.PasswordHasher.Verify(hash, password)
}

func TestLoginVerifiesPasswordOnce(t *testing.T) {
	hasher := &countingHasher{PasswordHasher: auth.NewBcryptHasher(bcrypt.MinCost)}
	h := newSessionStackWithHasher(t, hasher)
	creds := url.Values{"email": {"ada@example.com"}, "password": {"analytical"}}
	wrong := url.Values{"email": {"ada@example.com"}, "password": {"difference"}}

	rec := serve(h, formRequest(http.MethodPost, "/users", creds))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, path := range []string{"/sessions", "/api/v1/auth_session/login"} {
		hasher.verifies = 0
		rec = serve(h, formRequest(http.MethodPost, path, creds))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 1, hasher.verifies, "successful %s", path)

		hasher.verifies = 0
		rec = serve(h, formRequest(http.MethodPost, path, wrong))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 1, hasher.verifies, "rejected %s", path)
	}
}
