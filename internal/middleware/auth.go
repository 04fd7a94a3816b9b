package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vhvplatform/go-smart-notification-service/internal/shared/errors"
)

const (
	userIDKey = "userID"
	scopesKey = "scopes"

	// ScopeEnqueue lets backend callers enqueue notifications for any user
	ScopeEnqueue = "notifications:enqueue"
)

// Authenticator validates bearer tokens issued by the identity service
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an authenticator for HMAC-signed tokens. An empty
// issuer accepts tokens from any issuer.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Claims are the token fields the service relies on
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// ValidateToken parses the token and returns its claims
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// Authenticate verifies the bearer token and stores the user id in the
// context. Browsers cannot set headers on websocket upgrades, so the token
// may also arrive as the access_token query parameter.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				abort(c, http.StatusUnauthorized, errors.NewUnauthorizedError("invalid authorization format", nil))
				return
			}
			token = parts[1]
		}
		if token == "" {
			abort(c, http.StatusUnauthorized, errors.NewUnauthorizedError("missing authorization header", nil))
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, errors.NewUnauthorizedError("invalid token", nil))
			return
		}

		c.Set(userIDKey, claims.Subject)
		c.Set(scopesKey, strings.Fields(claims.Scope))
		c.Next()
	}
}

// RequireScope rejects callers whose token lacks scope
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, s := range c.GetStringSlice(scopesKey) {
			if s == scope {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, &errors.AppError{Code: "FORBIDDEN", Message: "missing scope " + scope})
	}
}

// UserID returns the authenticated user id
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// SetUserID stores the user id, for handlers mounted without Authenticate in tests
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}

func abort(c *gin.Context, status int, err *errors.AppError) {
	c.AbortWithStatusJSON(status, err)
}
