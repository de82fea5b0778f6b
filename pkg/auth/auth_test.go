package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auraaudit/pkg/httpx"
)

func newTestManager(t *testing.T, ttl time.Duration) *JWTManager {
	t.Helper()
	priv, pub, err := GenerateKeyPair(0)
	require.NoError(t, err)
	jm, err := NewJWTManager(JWTConfig{PrivateKeyPEM: priv, PublicKeyPEM: pub, TokenTTL: ttl, Issuer: "test"})
	require.NoError(t, err)
	return jm
}

func TestGenerateAndValidate(t *testing.T) {
	jm := newTestManager(t, time.Minute)
	token, exp, err := jm.GenerateToken("user-1", "Ada")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := jm.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Ada", claims.DisplayName)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejectsExpiredAndForeignTokens(t *testing.T) {
	jm := newTestManager(t, time.Minute)

	expired := Claims{
		UserID: "u",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ID:        "x",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, expired).SignedString(jm.privateKey)
	require.NoError(t, err)
	_, err = jm.ValidateToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other := newTestManager(t, time.Minute)
	foreign, _, err := other.GenerateToken("u", "")
	require.NoError(t, err)
	_, err = jm.ValidateToken(context.Background(), foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = jm.ValidateToken(context.Background(), hs)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokedTokenIsRejected(t *testing.T) {
	jm := newTestManager(t, time.Minute)
	token, _, err := jm.GenerateToken("u", "")
	require.NoError(t, err)
	claims, err := jm.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, jm.Revoke(context.Background(), claims))
	_, err = jm.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestGenerateTokenRejectsBadUserID(t *testing.T) {
	jm := newTestManager(t, time.Minute)
	for _, id := range []string{"", "two words", "a/b"} {
		_, _, err := jm.GenerateToken(id, "")
		assert.ErrorIs(t, err, ErrInvalidClaims, id)
	}
}

func TestVerifyOnlyManagerCannotSign(t *testing.T) {
	_, pub, err := GenerateKeyPair(0)
	require.NoError(t, err)
	jm, err := NewJWTManager(JWTConfig{PublicKeyPEM: pub})
	require.NoError(t, err)
	_, _, err = jm.GenerateToken("u", "")
	assert.ErrorIs(t, err, ErrNoSigningKey)

	_, err = NewJWTManager(JWTConfig{})
	assert.Error(t, err)
}

func TestInMemoryRevokedStoreExpires(t *testing.T) {
	s := NewInMemoryRevokedStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.RevokeToken(context.Background(), "a", now.Add(time.Minute)))
	require.NoError(t, s.RevokeToken(context.Background(), "old", now.Add(-time.Minute)))
	ok, _ := s.IsRevoked(context.Background(), "a")
	assert.True(t, ok)
	ok, _ = s.IsRevoked(context.Background(), "old")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.IsRevoked(context.Background(), "a")
	assert.False(t, ok)
	require.NoError(t, s.RevokeToken(context.Background(), "b", now.Add(time.Minute)))
	assert.Equal(t, 1, s.Len())
}

func TestMiddleware(t *testing.T) {
	jm := newTestManager(t, time.Minute)
	token, _, err := jm.GenerateToken("user-7", "")
	require.NoError(t, err)

	mw := NewMiddleware(MiddlewareConfig{
		JWTManager:  jm,
		BypassPaths: []string{"/health"},
		CookiePaths: []string{"/api/audit/stream"},
	})
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	}))

	cases := []struct {
		name   string
		method string
		path   string
		setup  func(*http.Request)
		status int
		body   string
	}{
		{"bypass", http.MethodGet, "/health", func(*http.Request) {}, http.StatusOK, ""},
		{"missing", http.MethodGet, "/api/audit", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"bad scheme", http.MethodGet, "/api/audit", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized, ""},
		{"garbage", http.MethodGet, "/api/audit", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"bearer", http.MethodGet, "/api/audit", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "user-7"},
		{"cookie", http.MethodGet, "/api/audit/stream", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusOK, "user-7"},
		{"cookie on write", http.MethodPost, "/api/audit", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusUnauthorized, ""},
		{"cookie on revoke", http.MethodPost, "/api/auth/revoke", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusUnauthorized, ""},
		{"cookie on list", http.MethodGet, "/api/audit", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusUnauthorized, ""},
		{"cookie post to stream", http.MethodPost, "/api/audit/stream", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusUnauthorized {
				var body httpx.ErrorBody
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, httpx.ErrTypeUnauthorized, body.Error)
				assert.NotZero(t, body.Timestamp)
			} else {
				assert.Equal(t, tc.body, rr.Body.String())
			}
		})
	}
}
