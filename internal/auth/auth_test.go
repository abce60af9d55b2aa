// ABOUTME: Tests for JWT issue/verify and the HTTP middleware chain
// ABOUTME: Uses httptest recorders and a fixed 32-byte secret

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifierRejectsShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.Error(t, err)
}

func TestGenerateAndVerify(t *testing.T) {
	v := newTestVerifier(t)

	tok, err := v.Generate("alice", RoleAdmin, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.True(t, id.IsAdmin())
}

func TestVerifyDefaultsToViewer(t *testing.T) {
	v := newTestVerifier(t)
	tok, err := v.Generate("bob", "", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestVerifyExpired(t *testing.T) {
	v := newTestVerifier(t)
	tok, err := v.Generate("alice", RoleAdmin, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	other, err := NewJWTVerifier([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	tok, err := other.Generate("alice", RoleAdmin, time.Hour)
	require.NoError(t, err)

	_, err = newTestVerifier(t).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubject(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = newTestVerifier(t).Verify(tok)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		errMsg string
	}{
		{"", "", "missing authorization header"},
		{"Basic abc", "", "invalid authorization header format"},
		{"Bearer ", "", "empty token"},
		{"Bearer abc", "abc", ""},
	}
	for _, tt := range tests {
		tok, msg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, tok, tt.header)
		assert.Equal(t, tt.errMsg, msg, tt.header)
	}
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := newTestVerifier(t)
	var seen *Identity
	h := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":false`)
	})

	t.Run("valid token", func(t *testing.T) {
		tok, err := v.Generate("alice", RoleViewer, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "alice", seen.Subject)
	})
}

func TestRequireAdminHTTP(t *testing.T) {
	v := newTestVerifier(t)
	h := HTTPAuthMiddleware(v)(RequireAdminHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func(role string) int {
		tok, err := v.Generate("someone", role, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodDelete, "/api/sessions/x", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, do(RoleViewer))
	assert.Equal(t, http.StatusNoContent, do(RoleAdmin))

	rec := httptest.NewRecorder()
	RequireAdminHTTP(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
