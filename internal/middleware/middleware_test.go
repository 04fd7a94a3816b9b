package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "community-auth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func newAuthRouter(a *Authenticator, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{a.Authenticate()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	r.GET("/me", handlers...)
	return r
}

// TestAuthenticate tests bearer token validation
func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator(testSecret, "community-auth")

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims("u1")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{name: "valid", header: "Bearer " + sign(t, testSecret, validClaims("u1")), wantStatus: http.StatusOK, wantBody: "u1"},
		{name: "query token", query: "?access_token=" + sign(t, testSecret, validClaims("u2")), wantStatus: http.StatusOK, wantBody: "u2"},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "bad format", header: "Token abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + sign(t, "other", validClaims("u1")), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(t, testSecret, expired), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + sign(t, testSecret, wrongIssuer), wantStatus: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + sign(t, testSecret, validClaims("")), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newAuthRouter(a).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

// TestRequireScope tests scope enforcement
func TestRequireScope(t *testing.T) {
	a := NewAuthenticator(testSecret, "")
	r := newAuthRouter(a, RequireScope(ScopeEnqueue))

	service := validClaims("chat-service")
	service.Scope = "profile " + ScopeEnqueue

	tests := []struct {
		name   string
		claims Claims
		want   int
	}{
		{name: "with scope", claims: service, want: http.StatusOK},
		{name: "without scope", claims: validClaims("u1"), want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+sign(t, testSecret, tt.claims))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// TestRateLimitMiddleware tests per-user request limiting
func TestRateLimitMiddleware(t *testing.T) {
	rl := NewUserRateLimiter(0.001, 2)
	r := gin.New()
	r.GET("/ping", func(c *gin.Context) {
		SetUserID(c, c.Query("user"))
		c.Next()
	}, RateLimitMiddleware(rl), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(user string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping?user="+user, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("u1"))
	assert.Equal(t, http.StatusOK, do("u1"))
	assert.Equal(t, http.StatusTooManyRequests, do("u1"))
	assert.Equal(t, http.StatusOK, do("u2"), "limits are per user")
	assert.Equal(t, http.StatusOK, do(""), "anonymous requests pass")
	assert.Same(t, rl.GetLimiter("u1"), rl.GetLimiter("u1"))
}
